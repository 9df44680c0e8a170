package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"workthread-notify-backend/internal/mw"
	"workthread-notify-backend/internal/store"
)

// saveSubscriptionRequest is the browser PushSubscription as serialized by
// PushSubscription.toJSON().
type saveSubscriptionRequest struct {
	Endpoint string      `json:"endpoint"`
	Keys     *store.Keys `json:"keys"`
}

// SaveSubscription handles POST /api/push/subscriptions. The endpoint is
// attached to the caller, taking it over from any previous owner.
func (h *Handler) SaveSubscription(c *gin.Context) {
	var req saveSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "endpoint required"})
		return
	}
	if req.Keys == nil || req.Keys.P256DH == "" || req.Keys.Auth == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "keys.p256dh and keys.auth required"})
		return
	}

	user := mw.CurrentIdentity(c)
	sub, created, err := h.store.RegisterSubscription(c.Request.Context(), user.UserID, req.Endpoint, *req.Keys)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("saving push subscription failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not save subscription"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, sub)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

// DeleteSubscription handles POST /api/push/subscriptions/delete. Only the
// caller's own subscription is removed; a missing one still succeeds.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "endpoint required"})
		return
	}

	user := mw.CurrentIdentity(c)
	if err := h.store.UnregisterSubscription(c.Request.Context(), user.UserID, strings.TrimSpace(req.Endpoint)); err != nil {
		h.log.Error().Err(err).Int64("user_id", user.UserID).Msg("deleting push subscription failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not delete subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetVAPIDPublicKey returns the application server key browsers need to
// subscribe.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
