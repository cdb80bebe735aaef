package stream

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
)

const StatusRetrieving = "Retrieving code..."

// Pipeline produces a complete answer, reporting stage changes via status.
type Pipeline func(ctx context.Context, status func(msg string)) (*model.Answer, error)

// Describe turns a pipeline failure into the message of the error event.
type Describe func(err error) string

// Respond drives one question through the stream: status events while the
// pipeline runs, then the answer, citations and complete. Any failure ends
// the stream with a single error event.
func Respond(ctx context.Context, e *Emitter, question string, run Pipeline, describe Describe) {
	if describe == nil {
		describe = func(err error) string { return err.Error() }
	}
	logger := logutil.GetLogger(ctx)
	if err := e.Status(StatusRetrieving); err != nil {
		logger.Info("client went away before the answer started", zap.Error(err))
		return
	}
	answer, err := run(ctx, func(msg string) {
		_ = e.Status(msg)
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("question aborted by client", zap.Error(err))
			return
		}
		logger.Error("answer question failed", zap.Error(err))
		_ = e.Error(describe(err))
		return
	}
	if err := e.Typewrite(ctx, answer.Answer); err != nil {
		logger.Info("stop streaming answer", zap.Error(err))
		return
	}
	if err := e.Citations(answer.Citations, question); err != nil {
		return
	}
	_ = e.Complete()
}
