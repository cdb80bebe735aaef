package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type ManagerConfig struct {
	Timeout    int
	MaxRetries int
}

type Manager struct {
	generator   IGenerator
	paraphraser IGenerator
	embedder    IEmbedder
	cfg         ManagerConfig
	retry       RetryConfig
}

func NewManager(generator IGenerator, paraphraser IGenerator, embedder IEmbedder, cfg ManagerConfig) *Manager {
	if paraphraser == nil {
		paraphraser = generator
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return &Manager{
		generator:   generator,
		paraphraser: paraphraser,
		embedder:    embedder,
		cfg:         cfg,
		retry:       retry,
	}
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.embedder.Embed(ctx, text, taskType)
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

// Paraphrase asks for n differently worded versions of a question. The
// question itself is not part of the result.
func (m *Manager) Paraphrase(ctx context.Context, question string, n int) ([]string, error) {
	if m.paraphraser == nil {
		return nil, fmt.Errorf("paraphraser not configured")
	}
	if n <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(`You are an AI language model assistant helping to search a code repository.
Generate %d different versions of the user question below to retrieve relevant code from a vector database.
- Each version should look at the question from a different perspective.
- Keep identifiers, file names and symbols exactly as written.
- Return a JSON array of strings only. No extra text.

QUESTION:
%s`, n, question)
	result, err := m.generateText(ctx, m.paraphraser, &GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return parseParaphrases(result, question, n)
}

// Answer generates a structured answer and retries when the model breaks the
// response schema or the call fails transiently.
func (m *Manager) Answer(ctx context.Context, system string, prompt string, temperature float32) (*model.Answer, error) {
	if m.generator == nil {
		return nil, fmt.Errorf("generator not configured")
	}
	req := &GenerateRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
		Schema:      AnswerSchema,
	}
	var answer *model.Answer
	attempt := 0
	err := withRetry(ctx, m.retry, retryable, func() error {
		attempt++
		raw, err := m.generateText(ctx, m.generator, req)
		if err != nil {
			return err
		}
		out, err := DecodeAnswer(raw)
		if err != nil {
			logutil.GetLogger(ctx).Warn("answer does not match schema", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (m *Manager) generateText(ctx context.Context, gen IGenerator, req *GenerateRequest) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	resp, err := gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("%w: empty ai response", appErr.ErrSchemaViolation)
	}
	return text, nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func parseParaphrases(output string, question string, n int) ([]string, error) {
	clean := strings.TrimSpace(output)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var items []string
	if err := json.Unmarshal([]byte(clean), &items); err != nil {
		return nil, fmt.Errorf("parse paraphrases: %w", err)
	}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(question)): true}
	out := make([]string, 0, n)
	for _, item := range items {
		normalized := strings.TrimSpace(item)
		key := strings.ToLower(normalized)
		if normalized == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, normalized)
		if len(out) >= n {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no paraphrases found")
	}
	return out, nil
}
