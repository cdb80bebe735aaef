package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/pkg/response"
	"github.com/xxxsen/repoqa/internal/service"
	"github.com/xxxsen/repoqa/internal/stream"
)

type Asker interface {
	Ask(ctx context.Context, q *service.Question, status func(msg string)) (*model.Answer, error)
}

type StreamConfig struct {
	Words    int
	Interval time.Duration
}

type QuestionHandler struct {
	qa  Asker
	cfg StreamConfig
}

func NewQuestionHandler(qa Asker, cfg StreamConfig) *QuestionHandler {
	return &QuestionHandler{qa: qa, cfg: cfg}
}

type askRequest struct {
	RepoURL      string `json:"repo_url"`
	Question     string `json:"question"`
	QuestionType string `json:"question_type"`
	SessionID    string `json:"session_id"`
}

// Ask answers over server-sent events. Every failure, including a bad
// request body, is reported as the stream's single error event.
func (h *QuestionHandler) Ask(c *gin.Context) {
	var req askRequest
	bindErr := c.ShouldBindJSON(&req)
	q := &service.Question{
		UserID:       getUserID(c),
		RepoURL:      req.RepoURL,
		Question:     req.Question,
		QuestionType: req.QuestionType,
		SessionID:    req.SessionID,
	}
	emitter := stream.NewEmitter(stream.NewGinSink(c), h.cfg.Words, h.cfg.Interval)
	ctx := c.Request.Context()
	stream.Respond(ctx, emitter, req.Question, func(ctx context.Context, status func(string)) (*model.Answer, error) {
		if bindErr != nil {
			return nil, fmt.Errorf("%w: %v", appErr.ErrInvalid, bindErr)
		}
		return h.qa.Ask(ctx, q, status)
	}, describeError)
}

func describeError(err error) string {
	_, msg := response.Classify(err)
	return msg
}
