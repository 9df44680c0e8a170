package mw

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HookTokenHeader carries the shared secret of the activity hooks.
const HookTokenHeader = "X-Hook-Token"

// HookToken admits only callers presenting the configured shared secret.
// With no secret configured every request is refused.
func HookToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "activity hooks are disabled"})
			return
		}
		got := c.GetHeader(HookTokenHeader)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "hook token was not provided"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid hook token"})
			return
		}
		c.Next()
	}
}
