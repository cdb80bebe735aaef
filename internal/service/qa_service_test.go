package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/prompt"
	"github.com/xxxsen/repoqa/internal/rerank"
)

const testTemplates = `
default: Find
templates:
  Find:
    temperature: 0.9
    content: FIND TEMPLATE
  Bugs:
    temperature: 0.7
    content: BUGS TEMPLATE
`

type fakeRetriever struct {
	hits   []model.ScoredChunk
	err    error
	repoID string
}

func (f *fakeRetriever) Retrieve(_ context.Context, repoID string, _ string) ([]model.ScoredChunk, error) {
	f.repoID = repoID
	return f.hits, f.err
}

type fakeGenerator struct {
	answer      *model.Answer
	err         error
	calls       int
	system      string
	prompt      string
	temperature float32
}

func (f *fakeGenerator) Answer(_ context.Context, system string, prompt string, temperature float32) (*model.Answer, error) {
	f.calls++
	f.system, f.prompt, f.temperature = system, prompt, temperature
	return f.answer, f.err
}

type fakeConversations struct {
	history   []model.Message
	session   *model.ConversationSession
	appended  []model.Message
	appendErr error
}

func (f *fakeConversations) Append(_ context.Context, session *model.ConversationSession, msgs []model.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.session = session
	f.appended = append(f.appended, msgs...)
	return nil
}

func (f *fakeConversations) History(_ context.Context, _, _ string, _ int) ([]model.Message, error) {
	return f.history, nil
}

type failingReranker struct{}

func (failingReranker) Name() string { return "failing" }

func (failingReranker) Rerank(context.Context, string, []string, int) ([]rerank.Result, error) {
	return nil, errors.New("cohere: 503")
}

type reverseReranker struct{}

func (reverseReranker) Name() string { return "reverse" }

func (reverseReranker) Rerank(_ context.Context, _ string, docs []string, topN int) ([]rerank.Result, error) {
	var out []rerank.Result
	for i := len(docs) - 1; i >= 0 && len(out) < topN; i-- {
		out = append(out, rerank.Result{Index: i, Score: float64(i)})
	}
	return out, nil
}

func scored(n int) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.ScoredChunk{
			PointID: fmt.Sprintf("p%d", i),
			Chunk: model.Chunk{
				RepoID:          "github_com_acme_widgets",
				FilePath:        fmt.Sprintf("src/f%d.ts", i),
				DeclarationName: fmt.Sprintf("fn%d", i),
				StartLine:       1,
				EndLine:         3,
				Content:         fmt.Sprintf("function fn%d() {}", i),
			},
		})
	}
	return out
}

func newTestQA(t *testing.T, r Retriever, rr rerank.Reranker, g AnswerGenerator, c ConversationStore) *QAService {
	catalogue, err := prompt.Parse([]byte(testTemplates))
	require.NoError(t, err)
	return NewQAService(r, rr, g, c, catalogue, QAConfig{RerankTopN: 5, ContextTokens: 6000, HistoryTurns: 30})
}

func testQuestion() *Question {
	return &Question{UserID: "u1", RepoURL: "https://github.com/acme/widgets.git", Question: "where is fn1?", SessionID: "s1"}
}

func TestAskAnswersAndPersists(t *testing.T) {
	retriever := &fakeRetriever{hits: scored(7)}
	gen := &fakeGenerator{answer: &model.Answer{
		Answer:    "fn1 lives in src/f1.ts",
		Citations: []model.Citation{{File: "src/f1.ts", StartLine: 1, EndLine: 3, Snippet: "function fn1() {}"}},
	}}
	convs := &fakeConversations{history: []model.Message{{Role: model.RoleUser, Content: "earlier question"}}}
	qa := newTestQA(t, retriever, reverseReranker{}, gen, convs)

	var statuses []string
	answer, err := qa.Ask(context.Background(), testQuestion(), func(msg string) { statuses = append(statuses, msg) })
	require.NoError(t, err)
	assert.Equal(t, "fn1 lives in src/f1.ts", answer.Answer)
	assert.Equal(t, []string{StatusReranking, StatusGenerating}, statuses)
	assert.Equal(t, "github_com_acme_widgets", retriever.repoID)

	assert.Contains(t, gen.system, "FIND TEMPLATE")
	assert.Contains(t, gen.system, "USER: earlier question")
	assert.InDelta(t, 0.9, gen.temperature, 1e-6)
	// reranked order, capped at five
	assert.Contains(t, gen.prompt, "src/f6.ts")
	assert.Contains(t, gen.prompt, "src/f2.ts")
	assert.NotContains(t, gen.prompt, "src/f1.ts")
	assert.Less(t, strings.Index(gen.prompt, "src/f6.ts"), strings.Index(gen.prompt, "src/f2.ts"))

	require.Len(t, convs.appended, 2)
	assert.Equal(t, model.RoleUser, convs.appended[0].Role)
	assert.Equal(t, "where is fn1?", convs.appended[0].Content)
	assert.Equal(t, model.RoleAssistant, convs.appended[1].Role)
	assert.Len(t, convs.appended[1].Citations, 1)
	assert.Equal(t, "s1", convs.session.SessionID)
	assert.Equal(t, "u1", convs.session.UserID)
}

func TestAskWithoutRerankerKeepsAllChunks(t *testing.T) {
	retriever := &fakeRetriever{hits: scored(8)}
	gen := &fakeGenerator{answer: &model.Answer{Answer: "ok"}}
	qa := newTestQA(t, retriever, nil, gen, &fakeConversations{})

	_, err := qa.Ask(context.Background(), testQuestion(), nil)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Contains(t, gen.prompt, fmt.Sprintf("src/f%d.ts", i))
	}
	assert.Less(t, strings.Index(gen.prompt, "src/f0.ts"), strings.Index(gen.prompt, "src/f7.ts"))
}

func TestAskRetrievalOutageFailsRequest(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("%w: dial tcp: connection refused", appErr.ErrRetrievalUnavailable)}
	gen := &fakeGenerator{answer: &model.Answer{Answer: "made up"}}
	convs := &fakeConversations{}
	qa := newTestQA(t, retriever, rerank.NoOp{}, gen, convs)

	_, err := qa.Ask(context.Background(), testQuestion(), nil)
	require.Error(t, err)
	assert.True(t, appErr.IsRetrievalUnavailable(err))
	assert.Equal(t, 0, gen.calls)
	assert.Empty(t, convs.appended)
}

func TestAskRerankFailureDegrades(t *testing.T) {
	retriever := &fakeRetriever{hits: scored(3)}
	gen := &fakeGenerator{answer: &model.Answer{Answer: "ok", Citations: []model.Citation{}}}
	qa := newTestQA(t, retriever, failingReranker{}, gen, &fakeConversations{})

	_, err := qa.Ask(context.Background(), testQuestion(), nil)
	require.NoError(t, err)
	assert.Less(t, strings.Index(gen.prompt, "src/f0.ts"), strings.Index(gen.prompt, "src/f2.ts"))
}

func TestAskWithoutChunksStillAnswers(t *testing.T) {
	gen := &fakeGenerator{answer: &model.Answer{Answer: "No relevant code found."}}
	qa := newTestQA(t, &fakeRetriever{}, failingReranker{}, gen, &fakeConversations{})

	var statuses []string
	answer, err := qa.Ask(context.Background(), testQuestion(), func(msg string) { statuses = append(statuses, msg) })
	require.NoError(t, err)
	assert.Equal(t, []string{StatusGenerating}, statuses)
	require.NotNil(t, answer.Citations)
	assert.Empty(t, answer.Citations)
}

func TestAskUnknownTagUsesDefaultTemplate(t *testing.T) {
	gen := &fakeGenerator{answer: &model.Answer{Answer: "ok", Citations: []model.Citation{}}}
	qa := newTestQA(t, &fakeRetriever{}, nil, gen, &fakeConversations{})

	q := testQuestion()
	q.QuestionType = "Poetry"
	_, err := qa.Ask(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Contains(t, gen.system, "FIND TEMPLATE")

	q.QuestionType = "bugs"
	_, err = qa.Ask(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Contains(t, gen.system, "BUGS TEMPLATE")
	assert.InDelta(t, 0.7, gen.temperature, 1e-6)
}

func TestAskPersistenceFailureKeepsAnswer(t *testing.T) {
	gen := &fakeGenerator{answer: &model.Answer{Answer: "ok", Citations: []model.Citation{}}}
	convs := &fakeConversations{appendErr: errors.New("db down")}
	qa := newTestQA(t, &fakeRetriever{}, nil, gen, convs)

	answer, err := qa.Ask(context.Background(), testQuestion(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Answer)
}

func TestAskPersistsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{answer: &model.Answer{Answer: "ok", Citations: []model.Citation{}}}
	convs := &fakeConversations{}
	qa := newTestQA(t, &fakeRetriever{}, nil, &cancellingGenerator{inner: gen, cancel: cancel}, convs)

	_, err := qa.Ask(ctx, testQuestion(), nil)
	require.NoError(t, err)
	assert.Len(t, convs.appended, 2)
}

type cancellingGenerator struct {
	inner  *fakeGenerator
	cancel context.CancelFunc
}

func (c *cancellingGenerator) Answer(ctx context.Context, system, prompt string, temperature float32) (*model.Answer, error) {
	defer c.cancel()
	return c.inner.Answer(ctx, system, prompt, temperature)
}

func TestAskValidates(t *testing.T) {
	qa := newTestQA(t, &fakeRetriever{}, nil, &fakeGenerator{}, &fakeConversations{})
	_, err := qa.Ask(context.Background(), &Question{RepoURL: "https://github.com/a/b", SessionID: "s"}, nil)
	assert.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUnverifiedCitations(t *testing.T) {
	supplied := []model.Chunk{{FilePath: "src/a.ts", StartLine: 10, EndLine: 20}}
	citations := []model.Citation{
		{File: "src/a.ts", StartLine: 12, EndLine: 14},
		{File: "./src/a.ts", StartLine: 18, EndLine: 30},
		{File: "src/a.ts", StartLine: 30, EndLine: 40},
		{File: "src/b.ts", StartLine: 1, EndLine: 2},
	}
	assert.Equal(t, 2, UnverifiedCitations(citations, supplied))
	assert.Equal(t, 0, UnverifiedCitations(nil, supplied))
}
