package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/repoqa/internal/chunk"
	"github.com/xxxsen/repoqa/internal/fetcher"
	"github.com/xxxsen/repoqa/internal/metrics"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
	"github.com/xxxsen/repoqa/internal/vectorstore"
)

const TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"

// Progress checkpoints of one indexing run. Batches share what is left
// between ProgressSplit and 100.
const (
	ProgressFetched = 15
	ProgressChunked = 30
	ProgressSplit   = 36
	ProgressDone    = 100
)

var errJobLost = errors.New("job is no longer active")

type JobWriter interface {
	UpdateProgress(ctx context.Context, jobID string, progress int, mtime int64) (bool, error)
	SetReport(ctx context.Context, jobID string, report model.JobReport, mtime int64) error
	Complete(ctx context.Context, jobID string, mtime int64) (bool, error)
	Fail(ctx context.Context, jobID string, reason string, mtime int64) (bool, error)
}

type ContentFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Result, error)
}

type VectorWriter interface {
	Upsert(ctx context.Context, records []vectorstore.Record) error
	Prune(ctx context.Context, repoID string, keepJobID string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type IndexerConfig struct {
	BatchSize        int
	BatchConcurrency int
}

// Indexer runs one claimed job from fetch to a terminal state.
type Indexer struct {
	jobs     JobWriter
	fetcher  ContentFetcher
	chunker  *chunk.Chunker
	splitter *chunk.Splitter
	embedder Embedder
	vectors  VectorWriter
	cfg      IndexerConfig
}

func NewIndexer(jobs JobWriter, f ContentFetcher, chunker *chunk.Chunker, splitter *chunk.Splitter, embedder Embedder, vectors VectorWriter, cfg IndexerConfig) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 3
	}
	return &Indexer{jobs: jobs, fetcher: f, chunker: chunker, splitter: splitter, embedder: embedder, vectors: vectors, cfg: cfg}
}

// Run drives the job to completed or failed. The returned error is the
// failure reason, nil when the job completed.
func (x *Indexer) Run(ctx context.Context, job *model.IndexJob) error {
	start := time.Now()
	logger := logutil.GetLogger(ctx).With(zap.String("job_id", job.ID), zap.String("repo_id", job.RepoID))

	err := x.run(ctx, logger, job)
	if errors.Is(err, errJobLost) {
		logger.Warn("job was finalized elsewhere, dropping run")
		return err
	}
	// a worker shutting down must still leave the job in a terminal state
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		reason := err.Error()
		logger.Error("index job failed", zap.String("reason", reason))
		if _, ferr := x.jobs.Fail(finalCtx, job.ID, reason, time.Now().Unix()); ferr != nil {
			logger.Error("mark job failed", zap.Error(ferr))
		}
		metrics.JobFinished(model.JobStatusFailed, time.Since(start))
		return err
	}
	if _, cerr := x.jobs.Complete(finalCtx, job.ID, time.Now().Unix()); cerr != nil {
		logger.Error("mark job completed", zap.Error(cerr))
		return cerr
	}
	metrics.JobFinished(model.JobStatusCompleted, time.Since(start))
	logger.Info("index job completed", zap.Duration("took", time.Since(start)))
	return nil
}

func (x *Indexer) run(ctx context.Context, logger *zap.Logger, job *model.IndexJob) error {
	res, err := x.fetcher.Fetch(ctx, fetcher.Request{RepoURL: job.RepoURL, Ref: job.Ref, Credential: job.Credential})
	if err != nil {
		return fmt.Errorf("fetch repository: %w", err)
	}
	logger.Info("repository fetched", zap.String("strategy", res.Strategy), zap.String("revision", res.Revision),
		zap.Int("found", res.Found), zap.Int("fetched", res.Fetched))
	metrics.FilesSkipped("fetch", res.Found-res.Fetched)
	if err := x.progress(ctx, job.ID, ProgressFetched); err != nil {
		return err
	}

	chunks, failed := x.chunker.ChunkFiles(ctx, job.RepoID, res.Files)
	if err := ctx.Err(); err != nil {
		return err
	}
	metrics.FilesSkipped("parse", len(failed))
	if err := x.progress(ctx, job.ID, ProgressChunked); err != nil {
		return err
	}

	chunks = x.splitter.Split(chunks)
	report := model.JobReport{FilesFound: res.Found, FilesFetched: res.Fetched, ChunksTotal: len(chunks)}
	if err := x.jobs.SetReport(ctx, job.ID, report, time.Now().Unix()); err != nil {
		logger.Warn("save job report failed", zap.Error(err))
	}
	if err := x.progress(ctx, job.ID, ProgressSplit); err != nil {
		return err
	}

	if err := x.upsertAll(ctx, job, chunks); err != nil {
		return err
	}
	if err := x.vectors.Prune(ctx, job.RepoID, job.ID); err != nil {
		logger.Warn("prune superseded chunks failed", zap.Error(err))
	}
	return nil
}

// upsertAll embeds and writes chunks in fixed size batches, a bounded number
// at a time. The first failing batch fails the job; batches already written
// stay in the store.
func (x *Indexer) upsertAll(ctx context.Context, job *model.IndexJob, chunks []model.Chunk) error {
	batches := partition(chunks, x.cfg.BatchSize)
	if len(batches) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		done int
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(x.cfg.BatchConcurrency)
	for i, batch := range batches {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			if err := x.upsertBatch(ectx, job.ID, batch); err != nil {
				metrics.BatchFailed()
				return fmt.Errorf("%w: batch %d/%d: %v", appErr.ErrBatchUpsert, i+1, len(batches), err)
			}
			metrics.BatchUpserted(len(batch))
			mu.Lock()
			done++
			p := BatchProgress(done, len(batches))
			mu.Unlock()
			return x.progress(ectx, job.ID, p)
		})
	}
	return eg.Wait()
}

func (x *Indexer) upsertBatch(ctx context.Context, jobID string, batch []model.Chunk) error {
	records := make([]vectorstore.Record, 0, len(batch))
	for _, c := range batch {
		vec, err := x.embedder.Embed(ctx, c.Content, TaskRetrievalDocument)
		if err != nil {
			return fmt.Errorf("embed %s: %w", c.FilePath, err)
		}
		records = append(records, vectorstore.Record{Chunk: c, Vector: vec, JobID: jobID})
	}
	return x.vectors.Upsert(ctx, records)
}

// progress writes a checkpoint. The store never lowers progress, so
// concurrent batches may report out of order.
func (x *Indexer) progress(ctx context.Context, jobID string, p int) error {
	ok, err := x.jobs.UpdateProgress(ctx, jobID, p, time.Now().Unix())
	if err != nil {
		logutil.GetLogger(ctx).Warn("update job progress failed", zap.Int("progress", p), zap.Error(err))
		return nil
	}
	if !ok {
		return errJobLost
	}
	return nil
}

func BatchProgress(done, total int) int {
	if total <= 0 {
		return ProgressSplit
	}
	return ProgressSplit + done*(ProgressDone-ProgressSplit)/total
}

func partition(chunks []model.Chunk, size int) [][]model.Chunk {
	var out [][]model.Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}
