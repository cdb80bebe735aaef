package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/repoqa/internal/model"
	"github.com/xxxsen/repoqa/internal/pkg/response"
)

type ConversationService interface {
	Get(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSession, error)
}

type SessionHandler struct {
	conversations ConversationService
}

func NewSessionHandler(conversations ConversationService) *SessionHandler {
	return &SessionHandler{conversations: conversations}
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.conversations.List(c.Request.Context(), getUserID(c), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		handleError(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.ConversationSession{}
	}
	response.Success(c, gin.H{"sessions": sessions})
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.conversations.Get(c.Request.Context(), getUserID(c), c.Param("session_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}
