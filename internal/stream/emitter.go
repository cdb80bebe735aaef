package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/repoqa/internal/model"
)

var ErrClosed = errors.New("stream closed")

// Emitter enforces the event protocol on top of a Sink: at most one
// terminal event, nothing after it, and nothing after the client went away.
type Emitter struct {
	sink     Sink
	words    int
	interval time.Duration

	mu     sync.Mutex
	closed bool
}

func NewEmitter(sink Sink, words int, interval time.Duration) *Emitter {
	if words <= 0 {
		words = 5
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Emitter{sink: sink, words: words, interval: interval}
}

func (e *Emitter) send(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.sink.Send(ev); err != nil {
		e.closed = true
		return err
	}
	if ev.Terminal() {
		e.closed = true
	}
	return nil
}

func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) Status(msg string) error {
	return e.send(StatusEvent(msg))
}

// Typewrite replays a finished answer in groups of words at a fixed pace.
// Concatenating the chunk contents gives back the answer.
func (e *Emitter) Typewrite(ctx context.Context, answer string) error {
	chunks := WordChunks(answer, e.words)
	if len(chunks) == 0 {
		return nil
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if err := e.send(ChunkEvent(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) Citations(citations []model.Citation, question string) error {
	return e.send(CitationsEvent(citations, question))
}

func (e *Emitter) Complete() error {
	return e.send(CompleteEvent())
}

func (e *Emitter) Error(msg string) error {
	return e.send(ErrorEvent(msg))
}

// WordChunks splits on single spaces and groups n words per chunk. Every
// chunk but the last keeps the space that followed it.
func WordChunks(text string, n int) []string {
	if text == "" {
		return nil
	}
	words := strings.Split(text, " ")
	out := make([]string, 0, (len(words)+n-1)/n)
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		out = append(out, chunk)
	}
	return out
}
