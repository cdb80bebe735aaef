package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// IndexJobCleanupJob drops terminal job records older than maxAge. Queued
// and active jobs are never touched.
type IndexJobCleanupJob struct {
	jobs   Purger
	maxAge time.Duration
}

func NewIndexJobCleanupJob(jobs Purger, maxAgeDays int) *IndexJobCleanupJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return &IndexJobCleanupJob{jobs: jobs, maxAge: days(maxAgeDays)}
}

func (j *IndexJobCleanupJob) Name() string {
	return "index_job_cleanup"
}

func (j *IndexJobCleanupJob) Run(ctx context.Context) error {
	n, err := j.jobs.DeleteBefore(ctx, time.Now().Add(-j.maxAge).Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("old index jobs removed", zap.Int64("count", n))
	}
	return nil
}
