package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry binds a job to its cron spec. An empty spec disables the job.
type Entry struct {
	Job  Job
	Spec string
}

// CronScheduler runs maintenance jobs on 5 field cron specs. A run that is
// still going when its next tick fires makes that tick a no-op.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

func (c *CronScheduler) Add(entries ...Entry) error {
	for _, e := range entries {
		if e.Spec == "" {
			logutil.GetLogger(context.Background()).Info("job disabled", zap.String("job", e.Job.Name()))
			continue
		}
		if err := c.AddJob(e.Job, e.Spec); err != nil {
			return err
		}
	}
	return nil
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("job %s scheduled twice", name)
	}
	id, err := c.cron.AddJob(spec, cron.FuncJob(func() { c.runOnce(job, spec) }))
	if err != nil {
		return fmt.Errorf("schedule job %s with %q: %w", name, spec, err)
	}
	c.entries[name] = id
	logutil.GetLogger(context.Background()).Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins firing jobs. Jobs see a context that ends on Stop or when
// ctx is done.
func (c *CronScheduler) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cron.Start()
}

// Stop prevents new runs and waits for running ones.
func (c *CronScheduler) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.cron.Stop().Done()
}

// Next reports when a job fires next, zero when it is not scheduled.
func (c *CronScheduler) Next(name string) time.Time {
	id, ok := c.entries[name]
	if !ok {
		return time.Time{}
	}
	return c.cron.Entry(id).Next
}

func (c *CronScheduler) runOnce(job Job, spec string) {
	logger := logutil.GetLogger(c.ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))
	start := time.Now()
	if err := job.Run(c.ctx); err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("job finished", zap.Duration("duration", time.Since(start)))
}
