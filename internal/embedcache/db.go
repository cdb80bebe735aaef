package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/ai"
	"github.com/xxxsen/repoqa/internal/metrics"
	"github.com/xxxsen/repoqa/internal/model"
)

// Store persists embeddings across processes and restarts. Lookup only
// returns rows of the requested dimension and marks them used at now.
type Store interface {
	Lookup(ctx context.Context, key model.EmbeddingKey, dims int, now int64) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

// WrapDBCacheToEmbedder lets a re-index of an unchanged repository skip the
// provider for every chunk it has embedded before. Store failures are logged
// and the provider answers instead.
func WrapDBCacheToEmbedder(e ai.IEmbedder, store Store, dims int) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store, dims: dims}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store Store
	dims  int
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := KeyFor(d.next.ModelName(), taskType, text)
	now := time.Now().Unix()
	vec, ok, err := d.store.Lookup(ctx, key, d.dims, now)
	if err != nil {
		logger.Warn("embedding cache lookup failed", zap.String("layer", "db"), zap.Error(err))
	}
	if ok && checkDims(vec, d.dims) == nil {
		metrics.EmbeddingCacheLookup("db", true)
		return vec, nil
	}
	metrics.EmbeddingCacheLookup("db", false)

	vec, err = d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := checkDims(vec, d.dims); err != nil {
		return nil, err
	}
	item := &model.EmbeddingCache{EmbeddingKey: key, Dims: len(vec), Embedding: vec, Atime: now}
	if err := d.store.Save(ctx, item); err != nil {
		logger.Warn("embedding cache save failed", zap.String("layer", "db"), zap.Error(err))
	}
	return vec, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}
