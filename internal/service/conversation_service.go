package service

import (
	"context"
	"strings"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type ConversationReader interface {
	Get(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSession, error)
}

// ConversationService exposes the transcripts written by QAService.
type ConversationService struct {
	store ConversationReader
}

func NewConversationService(store ConversationReader) *ConversationService {
	return &ConversationService{store: store}
}

func (s *ConversationService) Get(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, appErr.ErrInvalid
	}
	return s.store.Get(ctx, userID, sessionID)
}

func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListSessions(ctx, userID, limit, offset)
}
