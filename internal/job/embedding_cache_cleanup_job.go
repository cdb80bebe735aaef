package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Purger interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type EmbeddingCacheCleanupJob struct {
	cache  Purger
	maxAge time.Duration
}

func NewEmbeddingCacheCleanupJob(cache Purger, maxAgeDays int) *EmbeddingCacheCleanupJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return &EmbeddingCacheCleanupJob{cache: cache, maxAge: days(maxAgeDays)}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	n, err := j.cache.DeleteBefore(ctx, time.Now().Add(-j.maxAge).Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("expired embeddings removed", zap.Int64("count", n))
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
