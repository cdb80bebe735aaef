package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

var refSanitizer = regexp.MustCompile(`[^\w.-]+`)

// CloneFetcher materializes a repository with the git client under
// <dir>/<repoId>/<ref>. A materialized path is reused as is.
type CloneFetcher struct {
	dir    string
	filter *Filter
	gitBin string
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

func NewCloneFetcher(dir string, filter *Filter) *CloneFetcher {
	c := &CloneFetcher{dir: dir, filter: filter, gitBin: "git"}
	c.runGit = c.exec
	return c
}

func (c *CloneFetcher) Name() string {
	return "git_clone"
}

// Path returns where a repository reference is materialized.
func (c *CloneFetcher) Path(repoURL, ref string) string {
	if ref == "" {
		ref = DefaultRef
	}
	return filepath.Join(c.dir, RepoID(repoURL), refSanitizer.ReplaceAllString(ref, "_"))
}

func (c *CloneFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	ref := req.Ref
	if ref == "" {
		ref = DefaultRef
	}
	if err := ValidateRef(ref); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}
	target := c.Path(req.RepoURL, ref)
	if err := c.materialize(ctx, req.RepoURL, ref, target); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}
	revision, err := c.runGit(ctx, target, "rev-parse", "HEAD")
	if err != nil {
		logutil.GetLogger(ctx).Warn("resolve clone revision failed", zap.String("path", target), zap.Error(err))
	}
	res, err := c.load(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}
	res.Revision = strings.TrimSpace(revision)
	return res, nil
}

func (c *CloneFetcher) materialize(ctx context.Context, repoURL, ref, target string) error {
	if _, err := os.Stat(filepath.Join(target, ".git")); err == nil {
		logutil.GetLogger(ctx).Info("reuse materialized clone", zap.String("path", target))
		// keeps the clone out of the expiry sweep
		now := time.Now()
		_ = os.Chtimes(target, now, now)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(target), ".clone-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.RemoveAll(tmp)
	}()
	// A shallow clone only carries HEAD, any other ref needs full history.
	if ref == DefaultRef {
		if _, err := c.runGit(ctx, "", "clone", "--depth", "1", repoURL, tmp); err != nil {
			return err
		}
	} else {
		if _, err := c.runGit(ctx, "", "clone", repoURL, tmp); err != nil {
			return err
		}
		if _, err := c.runGit(ctx, tmp, "checkout", ref); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		// Another worker finished the same clone first.
		if _, statErr := os.Stat(filepath.Join(target, ".git")); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

func (c *CloneFetcher) load(ctx context.Context, root string) (*Result, error) {
	res := &Result{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && c.filter.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !c.filter.Match(rel, info.Size()) {
			return nil
		}
		res.Found++
		data, err := os.ReadFile(p)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip file: read failed", zap.String("path", rel), zap.Error(err))
			return nil
		}
		res.Files = append(res.Files, model.SourceFile{Path: rel, Content: string(data)})
		res.Fetched++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *CloneFetcher) exec(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.gitBin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
