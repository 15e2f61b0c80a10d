package server

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
)

// handleEvents streams live events for the caller's channel as server-sent
// events until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	userID := actor(c).ID
	sub := s.hub.Subscribe(userID)
	defer sub.Close()

	s.logger.Debug("event stream opened", slog.String("user_id", userID))
	defer s.logger.Debug("event stream closed", slog.String("user_id", userID))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"userId": userID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev)
			return true
		}
	})
}
