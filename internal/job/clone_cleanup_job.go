package job

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// CloneCleanupJob removes materialized clones (<dir>/<repoId>/<ref>) that
// were not refreshed within maxAge, and repo directories left empty.
type CloneCleanupJob struct {
	dir    string
	maxAge time.Duration
}

func NewCloneCleanupJob(dir string, maxAgeDays int) *CloneCleanupJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}
	return &CloneCleanupJob{dir: dir, maxAge: days(maxAgeDays)}
}

func (j *CloneCleanupJob) Name() string {
	return "clone_cleanup"
}

func (j *CloneCleanupJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	repos, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, repo := range repos {
		if !repo.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		repoDir := filepath.Join(j.dir, repo.Name())
		refs, err := os.ReadDir(repoDir)
		if err != nil {
			logger.Warn("read clone dir failed", zap.String("path", repoDir), zap.Error(err))
			continue
		}
		left := len(refs)
		for _, ref := range refs {
			info, err := ref.Info()
			if err != nil || !ref.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			p := filepath.Join(repoDir, ref.Name())
			if err := os.RemoveAll(p); err != nil {
				logger.Warn("remove clone failed", zap.String("path", p), zap.Error(err))
				continue
			}
			removed++
			left--
		}
		if left == 0 {
			_ = os.Remove(repoDir)
		}
	}
	if removed > 0 {
		logger.Info("expired clones removed", zap.Int("count", removed))
	}
	return nil
}
