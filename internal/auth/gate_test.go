package auth

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workthread-notify-backend/internal/model"
	"workthread-notify-backend/internal/store"
)

const testSecret = "test-secret-key-for-unit-tests"

// fakeDirectory is a UserDirectory backed by a map.
type fakeDirectory struct {
	users map[int64]model.User
	calls atomic.Int32
	panic bool
}

func (f *fakeDirectory) GetUser(_ context.Context, id int64) (model.User, error) {
	f.calls.Add(1)
	if f.panic {
		panic("directory exploded")
	}
	u, ok := f.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[int64]model.User{
		1: {ID: 1, FullName: "Meera Iyer"},
	}}
}

func TestIssuer_MintAndParse(t *testing.T) {
	issuer := NewIssuer(testSecret, "workthread", time.Hour)

	raw, err := issuer.Mint(1, "Meera")
	require.NoError(t, err)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.UserID)
	assert.Equal(t, "Meera", claims.Name)
	assert.Equal(t, "workthread", claims.Issuer)
}

func TestIssuer_ParseRejects(t *testing.T) {
	issuer := NewIssuer(testSecret, "workthread", time.Hour)

	expired := NewIssuer(testSecret, "workthread", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Mint(1, "")
	require.NoError(t, err)

	otherSecret, err := NewIssuer("another-secret", "workthread", time.Hour).Mint(1, "")
	require.NoError(t, err)

	otherIssuer, err := NewIssuer(testSecret, "someone-else", time.Hour).Mint(1, "")
	require.NoError(t, err)

	noUser, err := issuer.Mint(0, "")
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":        "",
		"malformed":    "not-a-jwt",
		"expired":      expiredToken,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"missing user": noUser,
		"whitespace":   "   ",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Parse(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestGate_Resolve(t *testing.T) {
	issuer := NewIssuer(testSecret, "workthread", time.Hour)
	valid, err := issuer.Mint(1, "token name")
	require.NoError(t, err)
	unknownUser, err := issuer.Mint(99, "")
	require.NoError(t, err)

	t.Run("valid token resolves to the directory user", func(t *testing.T) {
		gate := NewGate(issuer, newDirectory(), time.Minute, zerolog.Nop())
		req := httptest.NewRequest("GET", "/ws/threads/5?token="+valid, nil)

		id := gate.Resolve(context.Background(), req)
		assert.True(t, id.Authenticated())
		assert.Equal(t, int64(1), id.UserID)
		assert.Equal(t, "Meera Iyer", id.Name)
	})

	t.Run("missing token is anonymous", func(t *testing.T) {
		gate := NewGate(issuer, newDirectory(), time.Minute, zerolog.Nop())
		req := httptest.NewRequest("GET", "/ws/threads/5", nil)
		assert.Equal(t, Anonymous, gate.Resolve(context.Background(), req))
	})

	t.Run("garbage token is anonymous", func(t *testing.T) {
		gate := NewGate(issuer, newDirectory(), time.Minute, zerolog.Nop())
		req := httptest.NewRequest("GET", "/ws/dashboard?token=abc.def.ghi", nil)
		assert.False(t, gate.Resolve(context.Background(), req).Authenticated())
	})

	t.Run("unknown user is anonymous", func(t *testing.T) {
		gate := NewGate(issuer, newDirectory(), time.Minute, zerolog.Nop())
		assert.Equal(t, Anonymous, gate.ResolveToken(context.Background(), unknownUser))
	})

	t.Run("directory panic degrades to anonymous", func(t *testing.T) {
		dir := newDirectory()
		dir.panic = true
		gate := NewGate(issuer, dir, time.Minute, zerolog.Nop())
		assert.NotPanics(t, func() {
			assert.Equal(t, Anonymous, gate.ResolveToken(context.Background(), valid))
		})
	})

	t.Run("resolved identities are cached", func(t *testing.T) {
		dir := newDirectory()
		gate := NewGate(issuer, dir, time.Minute, zerolog.Nop())

		first := gate.ResolveToken(context.Background(), valid)
		second := gate.ResolveToken(context.Background(), valid)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), dir.calls.Load())
	})

	t.Run("without a directory the token name is used", func(t *testing.T) {
		gate := NewGate(issuer, nil, time.Minute, zerolog.Nop())
		id := gate.ResolveToken(context.Background(), valid)
		assert.Equal(t, Identity{UserID: 1, Name: "token name"}, id)
	})
}
