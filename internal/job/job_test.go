package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoff int64
	n      int64
}

func (f *fakePurger) DeleteBefore(_ context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return f.n, nil
}

type fakeStale struct {
	before int64
	reason string
}

func (f *fakeStale) FailStale(_ context.Context, before int64, reason string, _ int64) (int64, error) {
	f.before, f.reason = before, reason
	return 1, nil
}

func (f *fakeStale) CountByStatus(context.Context) (map[string]int, error) {
	return map[string]int{"queued": 2, "active": 1}, nil
}

func TestCleanupCutoffs(t *testing.T) {
	p := &fakePurger{n: 3}
	require.NoError(t, NewEmbeddingCacheCleanupJob(p, 10).Run(context.Background()))
	assert.InDelta(t, time.Now().Add(-10*24*time.Hour).Unix(), p.cutoff, 5)

	require.NoError(t, NewIndexJobCleanupJob(p, 0).Run(context.Background()))
	assert.InDelta(t, time.Now().Add(-30*24*time.Hour).Unix(), p.cutoff, 5)
}

func TestStaleReaper(t *testing.T) {
	s := &fakeStale{}
	require.NoError(t, NewStaleJobReaperJob(s, 15).Run(context.Background()))
	assert.Equal(t, ReasonWorkerLost, s.reason)
	assert.InDelta(t, time.Now().Add(-15*time.Minute).Unix(), s.before, 5)
}

func TestCloneCleanup(t *testing.T) {
	dir := t.TempDir()
	oldRef := filepath.Join(dir, "github_com_acme_old", "HEAD")
	freshRef := filepath.Join(dir, "github_com_acme_fresh", "HEAD")
	require.NoError(t, os.MkdirAll(filepath.Join(oldRef, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(freshRef, ".git"), 0o755))
	past := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldRef, past, past))

	require.NoError(t, NewCloneCleanupJob(dir, 7).Run(context.Background()))
	_, err := os.Stat(filepath.Join(dir, "github_com_acme_old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshRef)
	assert.NoError(t, err)

	assert.NoError(t, NewCloneCleanupJob(filepath.Join(dir, "missing"), 7).Run(context.Background()))
}
