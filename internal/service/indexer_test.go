package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/chunk"
	"github.com/xxxsen/repoqa/internal/fetcher"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/vectorstore"
)

type fakeJobs struct {
	mu        sync.Mutex
	progress  int
	writes    []int
	status    string
	reason    string
	report    model.JobReport
	lost      bool
	completes int
	fails     int
}

func (f *fakeJobs) UpdateProgress(_ context.Context, _ string, progress int, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost {
		return false, nil
	}
	if progress > f.progress {
		f.progress = progress
	}
	f.writes = append(f.writes, f.progress)
	return true, nil
}

func (f *fakeJobs) SetReport(_ context.Context, _ string, report model.JobReport, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = report
	return nil
}

func (f *fakeJobs) Complete(_ context.Context, _ string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	f.status = model.JobStatusCompleted
	f.progress = ProgressDone
	return true, nil
}

func (f *fakeJobs) Fail(_ context.Context, _ string, reason string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails++
	f.status = model.JobStatusFailed
	f.reason = reason
	return true, nil
}

type fakeFetcher struct {
	res *fetcher.Result
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ fetcher.Request) (*fetcher.Result, error) {
	return f.res, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type fakeVectors struct {
	mu       sync.Mutex
	calls    int
	failOn   int
	records  []vectorstore.Record
	prunedBy string
}

func (f *fakeVectors) Upsert(_ context.Context, records []vectorstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return errors.New("qdrant: connection refused")
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeVectors) Prune(_ context.Context, _ string, keepJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedBy = keepJobID
	return nil
}

func textFiles(n int) []model.SourceFile {
	files := make([]model.SourceFile, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, model.SourceFile{Path: fmt.Sprintf("notes/%02d.txt", i), Content: fmt.Sprintf("note %d\n", i)})
	}
	return files
}

func newTestIndexer(jobs *fakeJobs, f *fakeFetcher, vectors *fakeVectors) *Indexer {
	return NewIndexer(jobs, f, chunk.NewChunker(), chunk.NewSplitter(6000, 2000, 400), fakeEmbedder{}, vectors,
		IndexerConfig{BatchSize: 10, BatchConcurrency: 3})
}

func testJob() *model.IndexJob {
	return &model.IndexJob{ID: "job-1", RepoURL: "https://github.com/acme/widgets", RepoID: fetcher.RepoID("https://github.com/acme/widgets"), Ref: "HEAD", Status: model.JobStatusActive}
}

func TestIndexerCompletes(t *testing.T) {
	jobs := &fakeJobs{}
	vectors := &fakeVectors{}
	f := &fakeFetcher{res: &fetcher.Result{Files: textFiles(25), Found: 26, Fetched: 25}}
	require.NoError(t, newTestIndexer(jobs, f, vectors).Run(context.Background(), testJob()))

	assert.Equal(t, model.JobStatusCompleted, jobs.status)
	assert.Equal(t, 1, jobs.completes)
	assert.Equal(t, 0, jobs.fails)
	assert.Len(t, vectors.records, 25)
	assert.Equal(t, "job-1", vectors.prunedBy)
	assert.Equal(t, model.JobReport{FilesFound: 26, FilesFetched: 25, ChunksTotal: 25}, jobs.report)
	for _, r := range vectors.records {
		assert.Equal(t, "job-1", r.JobID)
		assert.Equal(t, "github_com_acme_widgets", r.Chunk.RepoID)
	}
	assert.True(t, sort.IntsAreSorted(jobs.writes), "progress went backwards: %v", jobs.writes)
	assert.Equal(t, []int{ProgressFetched, ProgressChunked, ProgressSplit}, jobs.writes[:3])
	assert.Equal(t, ProgressDone, jobs.writes[len(jobs.writes)-1])
}

func TestIndexerBatchFailureFailsJob(t *testing.T) {
	jobs := &fakeJobs{}
	vectors := &fakeVectors{failOn: 2}
	f := &fakeFetcher{res: &fetcher.Result{Files: textFiles(40), Found: 40, Fetched: 40}}
	indexer := NewIndexer(jobs, f, chunk.NewChunker(), chunk.NewSplitter(6000, 2000, 400), fakeEmbedder{}, vectors,
		IndexerConfig{BatchSize: 10, BatchConcurrency: 1})
	err := indexer.Run(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr.ErrBatchUpsert)
	assert.Equal(t, model.JobStatusFailed, jobs.status)
	assert.Contains(t, jobs.reason, "batch upsert failed")
	assert.Empty(t, vectors.prunedBy)
	// the first batch stays committed
	assert.Len(t, vectors.records, 10)
}

func TestIndexerFetchFailure(t *testing.T) {
	jobs := &fakeJobs{}
	vectors := &fakeVectors{}
	f := &fakeFetcher{err: fmt.Errorf("%w: repository not found", appErr.ErrFetch)}
	err := newTestIndexer(jobs, f, vectors).Run(context.Background(), testJob())
	require.ErrorIs(t, err, appErr.ErrFetch)
	assert.Equal(t, model.JobStatusFailed, jobs.status)
	assert.Contains(t, jobs.reason, "repository not found")
	assert.Equal(t, 0, vectors.calls)
}

func TestIndexerEmptyRepositoryCompletes(t *testing.T) {
	jobs := &fakeJobs{}
	vectors := &fakeVectors{}
	f := &fakeFetcher{res: &fetcher.Result{}}
	require.NoError(t, newTestIndexer(jobs, f, vectors).Run(context.Background(), testJob()))
	assert.Equal(t, model.JobStatusCompleted, jobs.status)
	assert.Equal(t, 0, vectors.calls)
}

func TestIndexerStopsWhenJobLost(t *testing.T) {
	jobs := &fakeJobs{lost: true}
	vectors := &fakeVectors{}
	f := &fakeFetcher{res: &fetcher.Result{Files: textFiles(3), Found: 3, Fetched: 3}}
	err := newTestIndexer(jobs, f, vectors).Run(context.Background(), testJob())
	require.ErrorIs(t, err, errJobLost)
	assert.Equal(t, 0, jobs.fails)
	assert.Equal(t, 0, jobs.completes)
	assert.Equal(t, 0, vectors.calls)
}

func TestBatchProgress(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 3, 36},
		{1, 3, 57},
		{2, 3, 78},
		{3, 3, 100},
		{0, 0, 36},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchProgress(tt.done, tt.total), "%d/%d", tt.done, tt.total)
	}
}
