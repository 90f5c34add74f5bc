package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/marketmind/decisioncore/internal/metrics"
)

// handleStream handles GET /api/v1/decisions/stream. Every persisted decision
// snapshot is pushed as one SSE event; a consumer that falls more than 64
// events behind loses its oldest events first.
func (s *Server) handleStream(c *gin.Context) {
	sub := s.store.SubscribeSnapshots()
	defer sub.Close()

	metrics.SnapshotSubscribers.Inc()
	defer metrics.SnapshotSubscribers.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("Snapshot stream opened")
	defer s.logger.Info().Str("client_ip", c.ClientIP()).Msg("Snapshot stream closed")

	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-sub.C:
			if !ok {
				// Store shutdown.
				return false
			}
			c.SSEvent("decision", snap)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
