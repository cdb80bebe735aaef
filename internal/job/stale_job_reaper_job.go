package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/metrics"
)

const ReasonWorkerLost = "worker lost"

type StaleFailer interface {
	FailStale(ctx context.Context, before int64, reason string, mtime int64) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// StaleJobReaperJob fails active jobs whose worker stopped writing progress,
// so every job still reaches a terminal state. It also refreshes the queue
// depth gauges.
type StaleJobReaperJob struct {
	jobs  StaleFailer
	after time.Duration
}

func NewStaleJobReaperJob(jobs StaleFailer, staleMinutes int) *StaleJobReaperJob {
	if staleMinutes <= 0 {
		staleMinutes = 60
	}
	return &StaleJobReaperJob{jobs: jobs, after: time.Duration(staleMinutes) * time.Minute}
}

func (j *StaleJobReaperJob) Name() string {
	return "stale_job_reaper"
}

func (j *StaleJobReaperJob) Run(ctx context.Context) error {
	now := time.Now()
	n, err := j.jobs.FailStale(ctx, now.Add(-j.after).Unix(), ReasonWorkerLost, now.Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Warn("stale index jobs failed", zap.Int64("count", n))
	}
	counts, err := j.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	metrics.SetJobCounts(counts)
	return nil
}
