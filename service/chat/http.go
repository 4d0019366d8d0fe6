package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"CampusChat/module/chat/store"
	"CampusChat/tools/errs"
)

// RegisterRoutes mounts the gateway's HTTP surface: the websocket upgrade
// plus read-only REST endpoints for history and read positions. Writes go
// through the socket only.
func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", s.HandleWS)
	r.GET("/conversations", s.handleListConversations)
	r.GET("/conversations/:id/messages", s.handleListMessages)
	r.GET("/conversations/:id/read-status", s.handleReadStatus)
}

func (s *Server) handleListConversations(c *gin.Context) {
	userID, err := s.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	list, err := s.conversations.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversations unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) handleListMessages(c *gin.Context) {
	_, convID, ok := s.authorizeConversation(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.messages.List(c.Request.Context(), convID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "messages unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": convID, "messages": msgs})
}

func (s *Server) handleReadStatus(c *gin.Context) {
	_, convID, ok := s.authorizeConversation(c)
	if !ok {
		return
	}
	list, err := s.readState.GetReadStatus(c.Request.Context(), convID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read status unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": convID, "readStatus": list})
}

// authorizeConversation authenticates the caller and checks membership of
// the :id conversation. Writes the error response itself when it fails.
func (s *Server) authorizeConversation(c *gin.Context) (userID, convID string, ok bool) {
	userID, err := s.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	convID = c.Param("id")

	conv, err := s.conversations.Get(c.Request.Context(), convID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": errs.ErrConversationNotFound.Msg})
		return "", "", false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation unavailable"})
		return "", "", false
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": errs.ErrNotParticipant.Msg})
		return "", "", false
	}
	return userID, convID, true
}
