package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/fetcher"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type JobStore interface {
	Create(ctx context.Context, job *model.IndexJob) error
	Get(ctx context.Context, userID, jobID string) (*model.IndexJob, error)
	List(ctx context.Context, userID string, limit, offset uint) ([]model.IndexJob, error)
}

type IndexService struct {
	jobs JobStore
}

func NewIndexService(jobs JobStore) *IndexService {
	return &IndexService{jobs: jobs}
}

// Submit queues an indexing job and returns right away. The credential is
// kept with the job only until it reaches a terminal state.
func (s *IndexService) Submit(ctx context.Context, userID, repoURL, ref, credential string) (*model.IndexJob, error) {
	repoURL = strings.TrimSpace(repoURL)
	if err := validateRepoURL(repoURL); err != nil {
		return nil, err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = fetcher.DefaultRef
	}
	if err := fetcher.ValidateRef(ref); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	job := &model.IndexJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		RepoURL:    repoURL,
		RepoID:     fetcher.RepoID(repoURL),
		Ref:        ref,
		Credential: strings.TrimSpace(credential),
		Status:     model.JobStatusQueued,
		Ctime:      now,
		Mtime:      now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("index job queued", zap.String("job_id", job.ID), zap.String("repo_id", job.RepoID),
		zap.String("ref", ref), zap.Bool("with_credential", job.Credential != ""))
	return job, nil
}

func (s *IndexService) Status(ctx context.Context, userID, jobID string) (*model.IndexJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, appErr.ErrInvalid
	}
	return s.jobs.Get(ctx, userID, jobID)
}

func (s *IndexService) List(ctx context.Context, userID string, limit, offset uint) ([]model.IndexJob, error) {
	if limit == 0 || limit > 100 {
		limit = 20
	}
	return s.jobs.List(ctx, userID, limit, offset)
}

// validateRepoURL accepts http(s), ssh and git urls plus the scp-like
// git@host:owner/repo form.
func validateRepoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: repo_url is required", appErr.ErrInvalid)
	}
	if strings.HasPrefix(raw, "git@") {
		if _, path, ok := strings.Cut(raw, ":"); ok && strings.Contains(path, "/") {
			return nil
		}
		return fmt.Errorf("%w: malformed repo_url %q", appErr.ErrInvalid, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed repo_url %q", appErr.ErrInvalid, raw)
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
	default:
		return fmt.Errorf("%w: unsupported repo_url scheme %q", appErr.ErrInvalid, u.Scheme)
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: repo_url needs a host and a path", appErr.ErrInvalid)
	}
	return nil
}
