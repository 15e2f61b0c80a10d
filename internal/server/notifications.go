package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleListNotifications returns the caller's notifications, newest first.
func (s *Server) handleListNotifications(c *gin.Context) {
	list, err := s.hub.Notifications(c.Request.Context(), actor(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"notifications": list})
}

// handleMarkNotificationRead flags one of the caller's notifications as read.
func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	if err := s.hub.MarkRead(c.Request.Context(), actor(c).ID, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "read"})
}
