package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/model"
)

type recordSink struct {
	mu      sync.Mutex
	events  []Event
	failAt  int
	failErr error
}

func (s *recordSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil && len(s.events) == s.failAt {
		return s.failErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordSink) count(typ string) int {
	n := 0
	for _, t := range s.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func TestWordChunks(t *testing.T) {
	text := "one two three four five six seven"
	chunks := WordChunks(text, 5)
	require.Equal(t, []string{"one two three four five ", "six seven"}, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Nil(t, WordChunks("", 5))
	assert.Equal(t, []string{"a b"}, WordChunks("a b", 5))
}

func TestEmitterSingleTerminal(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, 5, time.Millisecond)
	require.NoError(t, e.Status("working"))
	require.NoError(t, e.Complete())
	assert.ErrorIs(t, e.Error("late"), ErrClosed)
	assert.ErrorIs(t, e.Status("late"), ErrClosed)
	assert.True(t, e.Closed())
	assert.Equal(t, []string{TypeStatus, TypeComplete}, sink.types())
}

func TestEmitterStopsAfterSinkFailure(t *testing.T) {
	sink := &recordSink{failAt: 1, failErr: errors.New("broken pipe")}
	e := NewEmitter(sink, 1, time.Millisecond)
	err := e.Typewrite(context.Background(), "a b c d")
	require.Error(t, err)
	assert.True(t, e.Closed())
	assert.Equal(t, 1, sink.count(TypeAnswerChunk))
}

func TestTypewriteStopsOnCancel(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, 1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Typewrite(ctx, "a b c")
	}()
	require.Eventually(t, func() bool { return sink.count(TypeAnswerChunk) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("typewriter did not stop")
	}
	assert.Equal(t, 1, sink.count(TypeAnswerChunk))
}

func TestCitationsEventNeverNull(t *testing.T) {
	ev := CitationsEvent(nil, "q")
	assert.Equal(t, []model.Citation{}, ev.Data)
}

func TestRespondSuccess(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, 5, time.Millisecond)
	answer := &model.Answer{
		Answer:    "foo is defined in a.ts and returns the sum of its inputs",
		Citations: []model.Citation{{File: "src/a.ts", StartLine: 1, EndLine: 3}},
	}
	Respond(context.Background(), e, "where is foo?", func(ctx context.Context, status func(string)) (*model.Answer, error) {
		status("Generating answer...")
		return answer, nil
	}, nil)
	types := sink.types()
	require.Equal(t, TypeStatus, types[0])
	assert.Equal(t, TypeComplete, types[len(types)-1])
	assert.Equal(t, 1, sink.count(TypeCitations))
	assert.Equal(t, 3, sink.count(TypeAnswerChunk))
	assert.Equal(t, 0, sink.count(TypeError))

	var rebuilt strings.Builder
	for _, ev := range sink.events {
		if ev.Type == TypeAnswerChunk {
			rebuilt.WriteString(ev.Content)
		}
		if ev.Type == TypeCitations {
			assert.Equal(t, "where is foo?", ev.Question)
		}
	}
	assert.Equal(t, answer.Answer, rebuilt.String())
}

func TestRespondPipelineFailure(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, 5, time.Millisecond)
	Respond(context.Background(), e, "q", func(ctx context.Context, status func(string)) (*model.Answer, error) {
		return nil, errors.New("retrieval unavailable: qdrant down")
	}, func(error) string { return "vector store is unavailable" })
	assert.Equal(t, 1, sink.count(TypeError))
	assert.Equal(t, 0, sink.count(TypeAnswerChunk))
	assert.Equal(t, 0, sink.count(TypeComplete))
	types := sink.types()
	assert.Equal(t, TypeError, types[len(types)-1])
	assert.Equal(t, "vector store is unavailable", sink.events[len(sink.events)-1].Message)
}

func TestGinSinkFrames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/questions", nil)
	sink := NewGinSink(c)
	require.NoError(t, sink.Send(StatusEvent("Retrieving code...")))
	require.NoError(t, sink.Send(CompleteEvent()))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"type\":\"status\",\"message\":\"Retrieving code...\"}\n\ndata: {\"type\":\"complete\"}\n\n", w.Body.String())
}
