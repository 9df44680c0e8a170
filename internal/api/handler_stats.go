package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"workthread-notify-backend/internal/model"
)

type deliveryStatsResponse struct {
	States     map[model.DeliveryState]int64 `json:"states"`
	LiveGroups int                           `json:"live_groups"`
	Backlog    int64                         `json:"backlog"`
}

// GetDeliveryStats handles GET /api/delivery/stats.
func (h *Handler) GetDeliveryStats(c *gin.Context) {
	states, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("reading delivery stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not read delivery stats"})
		return
	}
	resp := deliveryStatsResponse{
		States:  states,
		Backlog: states[model.DeliveryPending] + states[model.DeliveryRunning],
	}
	if h.registry != nil {
		resp.LiveGroups = h.registry.Groups()
	}
	c.JSON(http.StatusOK, resp)
}
