package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"workthread-notify-backend/internal/auth"
	"workthread-notify-backend/internal/realtime"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) == 0 {
		return up
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			up.CheckOrigin = func(*http.Request) bool { return true }
			return up
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
	return up
}

// ThreadSocket handles GET /ws/threads/:thread_id. An admitted connection
// receives the chat frames of that thread.
func (h *Handler) ThreadSocket(c *gin.Context) {
	threadID, err := strconv.ParseInt(c.Param("thread_id"), 10, 64)
	if err != nil || threadID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "invalid thread id"})
		return
	}
	h.serveSession(c, func(auth.Identity) realtime.Group {
		return realtime.ThreadGroup(threadID)
	})
}

// DashboardSocket handles GET /ws/dashboard. An admitted connection receives
// refresh signals for its own user.
func (h *Handler) DashboardSocket(c *gin.Context) {
	h.serveSession(c, func(id auth.Identity) realtime.Group {
		return realtime.DashboardGroup(id.UserID)
	})
}

func (h *Handler) serveSession(c *gin.Context, scope realtime.ScopeFunc) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	s := realtime.NewSession(conn, c.Request, h.gate, h.registry, scope, h.session, h.log)
	if err := s.Run(ctx); err != nil {
		h.log.Debug().Err(err).Str("session_id", s.ID()).Msg("websocket session ended")
	}
}
