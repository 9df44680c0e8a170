package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workthread-notify-backend/internal/activity"
	"workthread-notify-backend/internal/mw"
)

type activityRequest struct {
	Kind        activity.Kind  `json:"kind" binding:"required"`
	CreatorID   int64          `json:"creator_id"`
	AssigneeIDs []int64        `json:"assignee_ids"`
	Status      string         `json:"status"`
	Message     map[string]any `json:"message"`
	Text        string         `json:"text"`
}

// PostActivity handles POST /api/threads/:thread_id/activity. The caller is
// the actor of the event.
func (h *Handler) PostActivity(c *gin.Context) {
	threadID, err := strconv.ParseInt(c.Param("thread_id"), 10, 64)
	if err != nil || threadID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid thread id"})
		return
	}
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	h.announce(c, activity.Event{
		Kind:        req.Kind,
		ThreadID:    threadID,
		CreatorID:   req.CreatorID,
		AssigneeIDs: req.AssigneeIDs,
		Status:      req.Status,
		Message:     req.Message,
		Text:        req.Text,
	})
}

type reminderRequest struct {
	ThreadID int64 `json:"thread_id"`
}

// PostReminder handles POST /api/reminders/activity. Reminders may exist
// without a thread.
func (h *Handler) PostReminder(c *gin.Context) {
	var req reminderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
	}
	h.announce(c, activity.Event{Kind: activity.ReminderAdded, ThreadID: req.ThreadID})
}

func (h *Handler) announce(c *gin.Context, ev activity.Event) {
	actor := mw.CurrentIdentity(c)
	ev.ActorID = actor.UserID
	ev.ActorName = actor.Name
	if user, err := h.store.GetUser(c.Request.Context(), actor.UserID); err == nil && user.FullName != "" {
		ev.ActorName = user.FullName
	}

	rep, err := h.announcer.Announce(c.Request.Context(), ev)
	if errors.Is(err, activity.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("announcing activity failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not announce activity"})
		return
	}
	c.JSON(http.StatusAccepted, rep)
}
