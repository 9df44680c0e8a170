package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"workthread-notify-backend/internal/model"
)

// TokenParam is the query parameter carrying the bearer token on websocket
// handshakes, where browsers cannot set an Authorization header.
const TokenParam = "token"

// Identity is who a connection belongs to. The zero value is anonymous.
type Identity struct {
	UserID int64
	Name   string
}

// Anonymous is the identity of every connection without a usable token.
var Anonymous = Identity{}

// Authenticated reports whether the identity resolved to a user.
func (i Identity) Authenticated() bool {
	return i.UserID > 0
}

// UserDirectory resolves user ids to user records.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (model.User, error)
}

// Gate turns the token presented at connection time into an Identity.
// Resolution never fails: anything wrong with the token, or with looking up
// its user, yields Anonymous.
type Gate struct {
	issuer *Issuer
	users  UserDirectory
	cache  *cache.Cache
	maxTTL time.Duration
	log    zerolog.Logger
}

// NewGate creates a Gate. users may be nil, in which case the name carried in
// the token is used as-is. Resolved identities are cached per token for at
// most cacheTTL and never past the token's own expiry.
func NewGate(issuer *Issuer, users UserDirectory, cacheTTL time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		issuer: issuer,
		users:  users,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
		maxTTL: cacheTTL,
		log:    log.With().Str("component", "auth_gate").Logger(),
	}
}

// Resolve reads the token query parameter of a handshake request.
func (g *Gate) Resolve(ctx context.Context, r *http.Request) Identity {
	return g.ResolveToken(ctx, r.URL.Query().Get(TokenParam))
}

// ResolveToken validates raw and looks its user up.
func (g *Gate) ResolveToken(ctx context.Context, raw string) (id Identity) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error().Interface("panic", rec).Msg("identity resolution panicked; treating as anonymous")
			id = Anonymous
		}
	}()

	if raw == "" {
		return Anonymous
	}
	if cached, ok := g.cache.Get(raw); ok {
		return cached.(Identity)
	}

	claims, err := g.issuer.Parse(raw)
	if err != nil {
		g.log.Debug().Err(err).Msg("rejecting token")
		return Anonymous
	}

	id = Identity{UserID: claims.UserID, Name: claims.Name}
	if g.users != nil {
		user, err := g.users.GetUser(ctx, claims.UserID)
		if err != nil {
			g.log.Debug().Err(err).Int64("user_id", claims.UserID).Msg("token user not resolvable")
			return Anonymous
		}
		if user.FullName != "" {
			id.Name = user.FullName
		}
	}

	ttl := g.maxTTL
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Time.Sub(g.issuer.now()); left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		g.cache.Set(raw, id, ttl)
	}
	return id
}
