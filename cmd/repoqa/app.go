package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/ai"
	"github.com/xxxsen/repoqa/internal/chunk"
	"github.com/xxxsen/repoqa/internal/config"
	"github.com/xxxsen/repoqa/internal/db"
	"github.com/xxxsen/repoqa/internal/embedcache"
	"github.com/xxxsen/repoqa/internal/fetcher"
	"github.com/xxxsen/repoqa/internal/filestore"
	"github.com/xxxsen/repoqa/internal/handler"
	"github.com/xxxsen/repoqa/internal/job"
	"github.com/xxxsen/repoqa/internal/middleware"
	"github.com/xxxsen/repoqa/internal/prompt"
	"github.com/xxxsen/repoqa/internal/repo"
	"github.com/xxxsen/repoqa/internal/rerank"
	"github.com/xxxsen/repoqa/internal/schedule"
	"github.com/xxxsen/repoqa/internal/service"
	"github.com/xxxsen/repoqa/internal/vectorstore"
	"github.com/xxxsen/repoqa/internal/worker"
)

const (
	maxSourceFileBytes = 1 << 20
	workerDrainTimeout = 30 * time.Second
)

type app struct {
	cfg     *config.Config
	db      *sql.DB
	vectors *vectorstore.Store

	jobs          *repo.IndexJobRepo
	conversations *repo.ConversationRepo
	embedCache    *repo.EmbeddingCacheRepo

	indexer *service.Indexer
	index   *service.IndexService
	qa      *service.QAService
	history *service.ConversationService
}

func newApp(cfg *config.Config) (*app, error) {
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{
		cfg:           cfg,
		db:            sqlDB,
		jobs:          repo.NewIndexJobRepo(sqlDB),
		conversations: repo.NewConversationRepo(sqlDB),
		embedCache:    repo.NewEmbeddingCacheRepo(sqlDB),
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cfg := a.cfg
	dims := int(cfg.Qdrant.Dimension)
	manager, err := ai.Build(cfg.AI, dims, func(e ai.IEmbedder) ai.IEmbedder {
		if cfg.EmbedCache.UseDB {
			e = embedcache.WrapDBCacheToEmbedder(e, a.embedCache, dims)
		}
		return embedcache.WrapLruCacheToEmbedder(e, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.TTLMinutes)*time.Minute, dims)
	})
	if err != nil {
		return err
	}
	vectors, err := vectorstore.New(cfg.Qdrant)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	a.vectors = vectors

	snapshots, err := filestore.New(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}
	filter := fetcher.NewFilter(cfg.Indexing.Extensions, maxSourceFileBytes)
	selector := fetcher.NewSelector(
		fetcher.NewGithubFetcher(fetcher.GithubConfig{
			BaseURL:     cfg.Indexing.GithubAPIBase,
			Concurrency: cfg.Indexing.FetchConcurrency,
		}, filter, snapshots),
		fetcher.NewCloneFetcher(cfg.Indexing.CloneDir, filter),
	)
	a.indexer = service.NewIndexer(a.jobs, selector, chunk.NewChunker(),
		chunk.NewSplitter(cfg.Indexing.SplitThreshold, cfg.Indexing.SplitSize, cfg.Indexing.SplitOverlap),
		manager, vectors, service.IndexerConfig{
			BatchSize:        cfg.Indexing.BatchSize,
			BatchConcurrency: cfg.Indexing.BatchConcurrency,
		})
	a.index = service.NewIndexService(a.jobs)

	templates, err := prompt.Load()
	if err != nil {
		return err
	}
	retriever := vectorstore.NewMultiQueryRetriever(vectors, manager, manager, cfg.Query.Paraphrases, vectorstore.SearchOptions{
		TopK:   cfg.Query.TopK,
		FetchK: cfg.Query.FetchK,
		Lambda: cfg.Query.MMRLambda,
	})
	a.qa = service.NewQAService(retriever, rerank.New(cfg.Reranker), manager, a.conversations, templates, service.QAConfig{
		RerankTopN:    cfg.Query.RerankTopN,
		ContextTokens: cfg.Query.ContextTokens,
		HistoryTurns:  cfg.Query.HistoryTurns,
	})
	a.history = service.NewConversationService(a.conversations)
	return nil
}

func (a *app) Close() {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) scheduler() (*schedule.CronScheduler, error) {
	s := a.cfg.Schedule
	sched := schedule.NewCronScheduler()
	err := sched.Add(
		schedule.Entry{Job: job.NewEmbeddingCacheCleanupJob(a.embedCache, a.cfg.EmbedCache.MaxAgeDays), Spec: s.EmbedCacheCleanup},
		schedule.Entry{Job: job.NewIndexJobCleanupJob(a.jobs, s.JobMaxAgeDays), Spec: s.JobCleanup},
		schedule.Entry{Job: job.NewStaleJobReaperJob(a.jobs, a.cfg.Indexing.StaleMinutes), Spec: s.JobReaper},
		schedule.Entry{Job: job.NewCloneCleanupJob(a.cfg.Indexing.CloneDir, s.CloneMaxAgeDays), Spec: s.CloneCleanup},
	)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (a *app) pool() *worker.Pool {
	return worker.NewPool(a.jobs, a.indexer, worker.Config{
		Workers:      a.cfg.Indexing.Workers,
		PollInterval: time.Duration(a.cfg.Indexing.PollIntervalMS) * time.Millisecond,
	})
}

// Serve runs the api until SIGINT or SIGTERM.
func (a *app) Serve(withWorkers bool) error {
	logger := logutil.GetLogger(context.Background())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	var pool *worker.Pool
	if withWorkers {
		pool = a.pool()
		pool.Start(ctx)
	}

	deps := handler.RouterDeps{
		Index: handler.NewIndexHandler(a.index),
		Questions: handler.NewQuestionHandler(a.qa, handler.StreamConfig{
			Words:    a.cfg.Query.StreamWords,
			Interval: time.Duration(a.cfg.Query.StreamIntervalMS) * time.Millisecond,
		}),
		Sessions:  handler.NewSessionHandler(a.history),
		Health:    handler.NewHealthHandler(a.db),
		JWTSecret: []byte(a.cfg.JWTSecret),
	}
	addr := fmt.Sprintf("0.0.0.0:%d", a.cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(a.cfg.CORSOrigins),
			// event streams must reach the client unbuffered
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/questions"})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr), zap.Bool("workers", withWorkers))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server stopping...")
	if pool != nil {
		a.drain(pool)
	}
	return nil
}

// Work consumes the index queue until SIGINT or SIGTERM.
func (a *app) Work() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	pool := a.pool()
	pool.Start(ctx)
	<-ctx.Done()
	a.drain(pool)
	return nil
}

func (a *app) drain(pool *worker.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), workerDrainTimeout)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		logutil.GetLogger(ctx).Warn("index workers still busy at shutdown, the reaper will fail their jobs", zap.Error(err))
	}
}
