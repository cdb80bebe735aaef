package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countJob struct {
	name string
	runs atomic.Int32
}

func (j *countJob) Name() string { return j.name }

func (j *countJob) Run(context.Context) error {
	j.runs.Add(1)
	return nil
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{name: "cleanup"}
	require.Error(t, s.AddJob(job, "not a spec"))
	require.NoError(t, s.AddJob(job, "0 4 * * *"))
	assert.Error(t, s.AddJob(job, "0 5 * * *"))
}

func TestDisabledEntriesAreSkipped(t *testing.T) {
	s := NewCronScheduler()
	on := &countJob{name: "on"}
	off := &countJob{name: "off"}
	require.NoError(t, s.Add(Entry{Job: on, Spec: "*/5 * * * *"}, Entry{Job: off}))
	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return !s.Next("on").IsZero() }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Next("off").IsZero())
}

func TestEveryDescriptorRuns(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{name: "tick"}
	require.NoError(t, s.AddJob(job, "@every 1s"))
	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return job.runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
