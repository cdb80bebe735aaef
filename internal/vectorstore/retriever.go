package vectorstore

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

const TaskRetrievalQuery = "RETRIEVAL_QUERY"

type Searcher interface {
	Search(ctx context.Context, repoID string, vector []float32, opts SearchOptions) ([]model.ScoredChunk, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type Paraphraser interface {
	Paraphrase(ctx context.Context, question string, n int) ([]string, error)
}

// MultiQueryRetriever searches with the question and a few paraphrases of it
// and merges the hits, first occurrence wins.
type MultiQueryRetriever struct {
	searcher    Searcher
	embedder    Embedder
	paraphraser Paraphraser
	paraphrases int
	opts        SearchOptions
}

func NewMultiQueryRetriever(searcher Searcher, embedder Embedder, paraphraser Paraphraser, paraphrases int, opts SearchOptions) *MultiQueryRetriever {
	return &MultiQueryRetriever{
		searcher:    searcher,
		embedder:    embedder,
		paraphraser: paraphraser,
		paraphrases: paraphrases,
		opts:        opts,
	}
}

// Retrieve fails with ErrRetrievalUnavailable when any search cannot be
// served. A failed paraphrase step only narrows the search to the question.
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, repoID string, question string) ([]model.ScoredChunk, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("repo_id", repoID))
	queries := []string{question}
	if r.paraphraser != nil && r.paraphrases > 0 {
		alts, err := r.paraphraser.Paraphrase(ctx, question, r.paraphrases)
		if err != nil {
			logger.Warn("paraphrase failed, searching with the question only", zap.Error(err))
		} else {
			queries = append(queries, alts...)
		}
	}

	results := make([][]model.ScoredChunk, len(queries))
	eg, ectx := errgroup.WithContext(ctx)
	for i, q := range queries {
		eg.Go(func() error {
			vec, err := r.embedder.Embed(ectx, q, TaskRetrievalQuery)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			hits, err := r.searcher.Search(ectx, repoID, vec, r.opts)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrRetrievalUnavailable, err)
	}

	seen := make(map[string]bool)
	var merged []model.ScoredChunk
	for _, hits := range results {
		for _, hit := range hits {
			key := hit.PointID
			if key == "" {
				key = PointID(hit.Chunk)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, hit)
		}
	}
	logger.Debug("multi query retrieval done", zap.Int("queries", len(queries)), zap.Int("chunks", len(merged)))
	return merged, nil
}
