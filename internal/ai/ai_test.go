package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type scriptedGenerator struct {
	replies []string
	errs    []error
	calls   int
	reqs    []*GenerateRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	i := g.calls
	g.calls++
	g.reqs = append(g.reqs, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func fastManager(gen IGenerator, retries int) *Manager {
	m := NewManager(gen, nil, nil, ManagerConfig{MaxRetries: retries})
	m.retry.InitialDelay = time.Millisecond
	m.retry.MaxDelay = time.Millisecond
	return m
}

func TestDecodeAnswer(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"answer":"a","citations":[{"file":"x.go","startLine":1,"endLine":3,"snippet":"s"}]}`},
		{name: "empty citations", raw: `{"answer":"a","citations":[]}`},
		{name: "missing citations", raw: `{"answer":"a"}`, wantErr: true},
		{name: "missing answer", raw: `{"citations":[]}`, wantErr: true},
		{name: "unknown field", raw: `{"answer":"a","citations":[],"extra":1}`, wantErr: true},
		{name: "inverted range", raw: `{"answer":"a","citations":[{"file":"x.go","startLine":5,"endLine":3,"snippet":"s"}]}`, wantErr: true},
		{name: "missing snippet", raw: `{"answer":"a","citations":[{"file":"x.go","startLine":1,"endLine":3}]}`, wantErr: true},
		{name: "empty file", raw: `{"answer":"a","citations":[{"file":"","startLine":1,"endLine":3,"snippet":"s"}]}`, wantErr: true},
		{name: "fenced", raw: "```json\n{\"answer\":\"a\",\"citations\":[]}\n```", wantErr: true},
		{name: "trailing prose", raw: `{"answer":"a","citations":[]} thanks`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeAnswer(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, appErr.ErrSchemaViolation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", out.Answer)
			assert.NotNil(t, out.Citations)
		})
	}
}

func TestAnswerRetriesOnSchemaViolation(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		`not json`,
		`{"answer":"ok","citations":[{"file":"a.go","startLine":2,"endLine":4,"snippet":"x"}]}`,
	}}
	m := fastManager(gen, 2)
	out, err := m.Answer(context.Background(), "sys", "prompt", 0.2)
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, "ok", out.Answer)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, 2, out.Citations[0].StartLine)
	assert.Equal(t, AnswerSchema, gen.reqs[0].Schema)
	assert.InDelta(t, 0.2, gen.reqs[0].Temperature, 1e-6)
}

func TestAnswerGivesUpAfterRetries(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"x", "y", "z", "w"}}
	m := fastManager(gen, 2)
	_, err := m.Answer(context.Background(), "", "prompt", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErr.ErrSchemaViolation))
	assert.Equal(t, 3, gen.calls)
}

func TestAnswerDoesNotRetryUnavailable(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ErrUnavailable}}
	m := fastManager(gen, 2)
	_, err := m.Answer(context.Background(), "", "prompt", 0)
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.NotContains(t, err.Error(), "failed after")
}

func TestWithRetryReportsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	boom := errors.New("boom")
	err := withRetry(context.Background(), cfg, nil, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")

	calls = 0
	err = withRetry(context.Background(), RetryConfig{MaxRetries: 0}, nil, func() error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestParaphrase(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Here you go:\n[\"Where is auth?\", \"where is auth?\", \"How is login done?\", \"\", \"What checks tokens?\", \"extra\"]"}}
	m := fastManager(gen, 0)
	out, err := m.Paraphrase(context.Background(), "Where is auth?", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"How is login done?", "What checks tokens?", "extra"}, out)
}

func TestParaphraseRejectsGarbage(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"sorry, I cannot"}}
	m := fastManager(gen, 0)
	_, err := m.Paraphrase(context.Background(), "q", 3)
	require.Error(t, err)
}

func TestGroupGeneratorFallback(t *testing.T) {
	first := &scriptedGenerator{errs: []error{errors.New("boom")}}
	second := &scriptedGenerator{replies: []string{"fine"}}
	g := NewGroupGenerator([]GeneratorEntry{{Name: "a", Generator: first}, {Name: "b", Generator: second}})
	out, err := g.Generate(context.Background(), &GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.Equal(t, 1, first.calls)
	assert.Nil(t, NewGroupGenerator(nil))
}

type fakeProvider struct {
	name string
	vec  []float32
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	return model, p.err
}

func (p *fakeProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	return p.vec, p.err
}

func TestGroupEmbedderFallbackAndName(t *testing.T) {
	bad := NewEmbedder(&fakeProvider{name: "anthropic", err: ErrEmbedUnsupported}, "claude")
	good := NewEmbedder(&fakeProvider{name: "openai", vec: []float32{1, 2}}, "text-embedding-3-large")
	g := NewGroupEmbedder([]EmbedderEntry{{Name: bad.ModelName(), Embedder: bad}, {Name: good.ModelName(), Embedder: good}}, 0)
	vec, err := g.Embed(context.Background(), "text", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, "anthropic/claude|openai/text-embedding-3-large", g.ModelName())
}

func TestGroupEmbedderSkipsWrongDimension(t *testing.T) {
	short := NewEmbedder(&fakeProvider{name: "gemini", vec: []float32{1, 2}}, "text-embedding-004")
	full := NewEmbedder(&fakeProvider{name: "openai", vec: []float32{1, 2, 3}}, "text-embedding-3-large")
	g := NewGroupEmbedder([]EmbedderEntry{{Name: short.ModelName(), Embedder: short}, {Name: full.ModelName(), Embedder: full}}, 3)
	vec, err := g.Embed(context.Background(), "text", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	only := NewGroupEmbedder([]EmbedderEntry{{Name: short.ModelName(), Embedder: short}}, 3)
	_, err = only.Embed(context.Background(), "text", "")
	assert.ErrorIs(t, err, appErr.ErrEmbeddingDimension)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("nope", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewProvider("", nil)
	require.Error(t, err)
}

func TestUnconfiguredProvidersAreUnavailable(t *testing.T) {
	for _, name := range []string{"openai", "openrouter", "gemini", "anthropic"} {
		p, err := NewProvider(name, map[string]interface{}{"api_key": ""})
		require.NoError(t, err, name)
		_, err = p.Generate(context.Background(), "m", &GenerateRequest{Prompt: "p"})
		assert.True(t, errors.Is(err, ErrUnavailable), name)
	}
}

func TestOpenAITemperature(t *testing.T) {
	assert.Greater(t, openAITemperature(0), float32(0))
	assert.Equal(t, float32(0.7), openAITemperature(0.7))
}

func TestAnswerSchemaShape(t *testing.T) {
	def := AnswerSchema.Definition
	require.NotNil(t, def)
	assert.Equal(t, "object", def.Type)
	assert.ElementsMatch(t, []string{"answer", "citations"}, def.Required)
	citations, ok := def.Properties.Get("citations")
	require.True(t, ok)
	assert.Equal(t, "array", citations.Type)
	require.NotNil(t, citations.Items)
	assert.ElementsMatch(t, []string{"file", "startLine", "endLine", "snippet"}, citations.Items.Required)
}
