package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/repoqa/internal/ai"
	"github.com/xxxsen/repoqa/internal/metrics"
	"github.com/xxxsen/repoqa/internal/model"
)

// WrapLruCacheToEmbedder serves repeated questions and paraphrases from
// memory. Callers get their own copy of a cached vector.
func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration, dims int) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &memoryEmbedder{
		next:  e,
		dims:  dims,
		cache: expirable.NewLRU[model.EmbeddingKey, []float32](size, nil, ttl),
	}
}

type memoryEmbedder struct {
	next  ai.IEmbedder
	dims  int
	cache *expirable.LRU[model.EmbeddingKey, []float32]
}

func (m *memoryEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := KeyFor(m.next.ModelName(), taskType, text)
	if vec, ok := m.cache.Get(key); ok {
		metrics.EmbeddingCacheLookup("memory", true)
		return cloneVector(vec), nil
	}
	metrics.EmbeddingCacheLookup("memory", false)
	vec, err := m.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := checkDims(vec, m.dims); err != nil {
		return nil, err
	}
	m.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func (m *memoryEmbedder) ModelName() string {
	return m.next.ModelName()
}
