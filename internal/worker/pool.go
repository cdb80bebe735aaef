package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type Queue interface {
	Claim(ctx context.Context, now int64) (*model.IndexJob, error)
}

type Runner interface {
	Run(ctx context.Context, job *model.IndexJob) error
}

type Config struct {
	Workers      int
	PollInterval time.Duration
}

// Pool consumes the durable job queue with a fixed number of workers. Each
// worker holds at most one job at a time.
type Pool struct {
	queue  Queue
	runner Runner
	cfg    Config

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(queue Queue, runner Runner, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{queue: queue, runner: runner, cfg: cfg}
}

// Start launches the workers. They stop claiming once ctx is done or Stop
// is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	logutil.GetLogger(ctx).Info("index workers started", zap.Int("workers", p.cfg.Workers), zap.Duration("poll", p.cfg.PollInterval))
}

// Stop stops claiming and waits for claimed jobs to reach a terminal state,
// or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", id))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		claimed, err := p.claimAndRun(ctx, logger)
		if err != nil {
			logger.Error("claim index job failed", zap.Error(err))
		}
		if claimed {
			timer.Reset(0)
			continue
		}
		timer.Reset(p.cfg.PollInterval)
	}
}

// claimAndRun runs at most one job. An indexing run has no user facing
// cancellation, so it is detached from the pool's context.
func (p *Pool) claimAndRun(ctx context.Context, logger *zap.Logger) (bool, error) {
	job, err := p.queue.Claim(ctx, time.Now().Unix())
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) || ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	logger.Info("index job claimed", zap.String("job_id", job.ID), zap.String("repo_url", job.RepoURL),
		zap.String("ref", job.Ref), zap.Int("attempts", job.Attempts))
	_ = p.runner.Run(context.WithoutCancel(ctx), job)
	return true, nil
}
