package rerank

import "context"

type Result struct {
	// Index is the position in the input documents.
	Index int
	Score float64
}

// Reranker scores query-document pairs with a cross-encoder and returns the
// best topN, highest score first.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
	Name() string
}

// NoOp keeps every document in input order and ignores topN, so an
// unconfigured reranker degrades the same way a failing one does.
type NoOp struct{}

func (NoOp) Name() string {
	return "noop"
}

func (NoOp) Rerank(_ context.Context, _ string, documents []string, _ int) ([]Result, error) {
	results := make([]Result, len(documents))
	for i := range documents {
		results[i] = Result{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return results, nil
}

var _ Reranker = NoOp{}
