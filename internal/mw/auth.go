package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"workthread-notify-backend/internal/auth"
)

const identityKey = "identity"

// BearerAuth admits requests carrying a valid "Authorization: Bearer" token
// and stores the caller's identity on the context. Everything else gets 401.
func BearerAuth(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication credentials were not provided"})
			return
		}
		claims, err := issuer.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(identityKey, auth.Identity{UserID: claims.UserID, Name: claims.Name})
		c.Next()
	}
}

// CurrentIdentity returns the identity BearerAuth stored, or Anonymous.
func CurrentIdentity(c *gin.Context) auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(auth.Identity); ok {
			return id
		}
	}
	return auth.Anonymous
}
