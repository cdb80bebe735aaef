package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/fetcher"
	"github.com/xxxsen/repoqa/internal/metrics"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/prompt"
	"github.com/xxxsen/repoqa/internal/rerank"
)

const (
	StatusReranking  = "Reranking results..."
	StatusGenerating = "Generating answer..."
)

type Retriever interface {
	Retrieve(ctx context.Context, repoID string, question string) ([]model.ScoredChunk, error)
}

type AnswerGenerator interface {
	Answer(ctx context.Context, system string, prompt string, temperature float32) (*model.Answer, error)
}

type ConversationStore interface {
	Append(ctx context.Context, session *model.ConversationSession, msgs []model.Message) error
	History(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error)
}

type QAConfig struct {
	RerankTopN    int
	ContextTokens int
	HistoryTurns  int
}

type Question struct {
	UserID       string
	RepoURL      string
	Question     string
	QuestionType string
	SessionID    string
}

func (q *Question) Validate() error {
	switch {
	case strings.TrimSpace(q.Question) == "":
		return fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	case strings.TrimSpace(q.SessionID) == "":
		return fmt.Errorf("%w: session_id is required", appErr.ErrInvalid)
	case strings.TrimSpace(q.RepoURL) == "":
		return fmt.Errorf("%w: repo_url is required", appErr.ErrInvalid)
	}
	return nil
}

// QAService answers one question: retrieve, rerank, generate, persist.
// Stages run strictly one after another.
type QAService struct {
	retriever     Retriever
	reranker      rerank.Reranker
	generator     AnswerGenerator
	conversations ConversationStore
	templates     *prompt.Catalogue
	cfg           QAConfig
}

func NewQAService(retriever Retriever, reranker rerank.Reranker, generator AnswerGenerator, conversations ConversationStore, templates *prompt.Catalogue, cfg QAConfig) *QAService {
	if reranker == nil {
		reranker = rerank.NoOp{}
	}
	if cfg.RerankTopN <= 0 || cfg.RerankTopN > 5 {
		cfg.RerankTopN = 5
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 6000
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 30
	}
	return &QAService{
		retriever:     retriever,
		reranker:      reranker,
		generator:     generator,
		conversations: conversations,
		templates:     templates,
		cfg:           cfg,
	}
}

// Ask returns a schema checked answer. status is called when a stage
// starts; it may be nil. The exchange is persisted before Ask returns, even
// if ctx was cancelled meanwhile.
func (s *QAService) Ask(ctx context.Context, q *Question, status func(msg string)) (*model.Answer, error) {
	if status == nil {
		status = func(string) {}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	repoID := fetcher.RepoID(q.RepoURL)
	logger := logutil.GetLogger(ctx).With(zap.String("repo_id", repoID), zap.String("session_id", q.SessionID))

	history, err := s.conversations.History(ctx, q.UserID, q.SessionID, s.cfg.HistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	hits, err := s.retriever.Retrieve(ctx, repoID, q.Question)
	if err != nil {
		metrics.QuestionAnswered("retrieval_failed", time.Since(start))
		return nil, err
	}
	chunks := make([]model.Chunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, h.Chunk)
	}
	if len(chunks) > 0 {
		status(StatusReranking)
		chunks = s.rerank(ctx, logger, q.Question, chunks)
	}

	status(StatusGenerating)
	tpl := s.templates.Select(q.QuestionType)
	system := prompt.SystemPrompt(tpl, history, s.cfg.HistoryTurns)
	contextText, used := prompt.BuildContext(chunks, s.cfg.ContextTokens)
	user := prompt.UserPrompt(contextText, tpl.Name, q.Question)
	logger.Debug("prompt assembled", zap.String("template", tpl.Name), zap.Int("retrieved", len(hits)),
		zap.Int("in_context", len(used)), zap.Int("history", len(history)))

	answer, err := s.generator.Answer(ctx, system, user, tpl.Temperature)
	if err != nil {
		metrics.QuestionAnswered("generation_failed", time.Since(start))
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if answer.Citations == nil {
		answer.Citations = []model.Citation{}
	}
	if n := UnverifiedCitations(answer.Citations, used); n > 0 {
		logger.Warn("answer cites code outside of the supplied context", zap.Int("unverified", n), zap.Int("citations", len(answer.Citations)))
		metrics.UnverifiedCitations(n)
	}
	metrics.QuestionAnswered("answered", time.Since(start))

	if err := s.persist(context.WithoutCancel(ctx), q, answer); err != nil {
		logger.Error("persist conversation failed", zap.Error(err))
		metrics.PersistFailed()
	}
	return answer, nil
}

// rerank orders chunks by the reranker, which keeps at most RerankTopN. Any
// reranker failure passes the retrieval order through untouched.
func (s *QAService) rerank(ctx context.Context, logger *zap.Logger, question string, chunks []model.Chunk) []model.Chunk {
	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = prompt.FormatChunk(c)
	}
	results, err := s.reranker.Rerank(ctx, question, docs, s.cfg.RerankTopN)
	if err != nil {
		logger.Warn("rerank failed, using retrieval order", zap.String("reranker", s.reranker.Name()),
			zap.Error(fmt.Errorf("%w: %v", appErr.ErrRerankDegraded, err)))
		metrics.RerankDegraded()
		return chunks
	}
	out := make([]model.Chunk, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(chunks) {
			continue
		}
		out = append(out, chunks[r.Index])
	}
	return out
}

func (s *QAService) persist(ctx context.Context, q *Question, answer *model.Answer) error {
	now := time.Now()
	session := &model.ConversationSession{
		SessionID: q.SessionID,
		UserID:    q.UserID,
		RepoURL:   q.RepoURL,
		Ctime:     now.Unix(),
		Mtime:     now.Unix(),
	}
	msgs := []model.Message{
		{Role: model.RoleUser, Content: q.Question, Timestamp: now.UnixMilli()},
		{Role: model.RoleAssistant, Content: answer.Answer, Citations: answer.Citations, Timestamp: now.UnixMilli()},
	}
	if err := s.conversations.Append(ctx, session, msgs); err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrConversationPersistence, err)
	}
	return nil
}

// UnverifiedCitations counts citations whose file and line range do not
// overlap any chunk that was handed to the model.
func UnverifiedCitations(citations []model.Citation, supplied []model.Chunk) int {
	n := 0
	for _, c := range citations {
		if !citationSupported(c, supplied) {
			n++
		}
	}
	return n
}

func citationSupported(c model.Citation, supplied []model.Chunk) bool {
	file := strings.TrimPrefix(c.File, "./")
	for _, ch := range supplied {
		if ch.FilePath != file {
			continue
		}
		if c.StartLine == 0 && c.EndLine == 0 {
			return true
		}
		if c.StartLine <= ch.EndLine && c.EndLine >= ch.StartLine {
			return true
		}
	}
	return false
}
