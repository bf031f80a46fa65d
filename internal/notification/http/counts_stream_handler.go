// Package http streams live failure totals to operators as server-sent events.
package http

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/allisson/recoverability/internal/notification"
)

// CountsEvent is the server-sent event name carrying failure totals.
const CountsEvent = "counts"

// CountsResponse is the payload of a counts event.
type CountsResponse struct {
	Unresolved int64 `json:"unresolved"`
	Archived   int64 `json:"archived"`
}

// CountsStreamHandler streams the totals published by the notification publisher.
type CountsStreamHandler struct {
	broadcaster *notification.Broadcaster
	logger      *slog.Logger
}

// NewCountsStreamHandler creates a new counts stream handler.
func NewCountsStreamHandler(broadcaster *notification.Broadcaster, logger *slog.Logger) *CountsStreamHandler {
	return &CountsStreamHandler{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// StreamHandler sends the latest totals and then every change until the client goes away.
// GET /api/v1/failures/counts/stream
func (h *CountsStreamHandler) StreamHandler(c *gin.Context) {
	updates, stop := h.broadcaster.Listen()
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.logger.Debug("counts stream opened", slog.String("client_ip", c.ClientIP()))

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case counts := <-updates:
			c.SSEvent(CountsEvent, CountsResponse{Unresolved: counts.Unresolved, Archived: counts.Archived})
			return true
		}
	})

	h.logger.Debug("counts stream closed", slog.String("client_ip", c.ClientIP()))
}
