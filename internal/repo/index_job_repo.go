package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/repoqa/internal/model"
	"github.com/xxxsen/repoqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

var indexJobColumns = []string{
	"id", "user_id", "repo_url", "repo_id", "ref", "credential", "status", "progress", "failure_reason",
	"files_found", "files_fetched", "chunks_total", "attempts", "ctime", "mtime",
}

const indexJobReturning = `id, user_id, repo_url, repo_id, ref, credential, status, progress, failure_reason,
	files_found, files_fetched, chunks_total, attempts, ctime, mtime`

// IndexJobRepo is both the job record store and the durable work queue.
// Workers claim queued rows with SKIP LOCKED so a job is handed out once.
type IndexJobRepo struct {
	db *sql.DB
}

func NewIndexJobRepo(db *sql.DB) *IndexJobRepo {
	return &IndexJobRepo{db: db}
}

func (r *IndexJobRepo) Create(ctx context.Context, job *model.IndexJob) error {
	data := map[string]interface{}{
		"id":             job.ID,
		"user_id":        job.UserID,
		"repo_url":       job.RepoURL,
		"repo_id":        job.RepoID,
		"ref":            job.Ref,
		"credential":     job.Credential,
		"status":         job.Status,
		"progress":       job.Progress,
		"failure_reason": job.FailureReason,
		"ctime":          job.Ctime,
		"mtime":          job.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("index_jobs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *IndexJobRepo) Get(ctx context.Context, userID, jobID string) (*model.IndexJob, error) {
	return r.getWhere(ctx, map[string]interface{}{"id": jobID, "user_id": userID})
}

// GetByID reads a job regardless of owner, for workers.
func (r *IndexJobRepo) GetByID(ctx context.Context, jobID string) (*model.IndexJob, error) {
	return r.getWhere(ctx, map[string]interface{}{"id": jobID})
}

func (r *IndexJobRepo) getWhere(ctx context.Context, where map[string]interface{}) (*model.IndexJob, error) {
	sqlStr, args, err := builder.BuildSelect("index_jobs", where, indexJobColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	job, err := scanIndexJob(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *IndexJobRepo) List(ctx context.Context, userID string, limit, offset uint) ([]model.IndexJob, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "ctime desc, id desc",
		"_limit":   []uint{offset, limit},
	}
	sqlStr, args, err := builder.BuildSelect("index_jobs", where, indexJobColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.IndexJob, 0)
	for rows.Next() {
		job, err := scanIndexJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *job)
	}
	return items, rows.Err()
}

// Claim moves the oldest queued job to active and returns it. A repository
// runs at most one job at a time: queued jobs of a repository that already has
// an active one wait, and the partial unique index on active repo_id settles
// two claims racing for the same repository. ErrNotFound means nothing is
// claimable right now.
func (r *IndexJobRepo) Claim(ctx context.Context, now int64) (*model.IndexJob, error) {
	query := `
		UPDATE index_jobs
		SET status = $1, attempts = attempts + 1, mtime = $2
		WHERE id = (
			SELECT q.id FROM index_jobs q
			WHERE q.status = $3
			AND NOT EXISTS (
				SELECT 1 FROM index_jobs a
				WHERE a.repo_id = q.repo_id AND a.status = $1
			)
			ORDER BY q.ctime, q.id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + indexJobReturning
	job, err := scanIndexJob(r.db.QueryRowContext(ctx, query, model.JobStatusActive, now, model.JobStatusQueued))
	if err != nil {
		if err == sql.ErrNoRows || dbutil.IsConflict(err) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateProgress never lowers the stored value and only touches active jobs,
// so late writers cannot move progress backward or revive a finished job.
func (r *IndexJobRepo) UpdateProgress(ctx context.Context, jobID string, progress int, mtime int64) (bool, error) {
	const query = `
		UPDATE index_jobs
		SET progress = GREATEST(progress, $1), mtime = $2
		WHERE id = $3 AND status = $4
	`
	return r.execAffected(ctx, query, progress, mtime, jobID, model.JobStatusActive)
}

func (r *IndexJobRepo) SetReport(ctx context.Context, jobID string, report model.JobReport, mtime int64) error {
	const query = `
		UPDATE index_jobs
		SET files_found = $1, files_fetched = $2, chunks_total = $3, mtime = $4
		WHERE id = $5 AND status = $6
	`
	_, err := r.execAffected(ctx, query, report.FilesFound, report.FilesFetched, report.ChunksTotal, mtime, jobID, model.JobStatusActive)
	return err
}

// Complete and Fail are the only ways out of active. Both drop the stored
// credential.
func (r *IndexJobRepo) Complete(ctx context.Context, jobID string, mtime int64) (bool, error) {
	const query = `
		UPDATE index_jobs
		SET status = $1, progress = 100, credential = '', mtime = $2
		WHERE id = $3 AND status = $4
	`
	return r.execAffected(ctx, query, model.JobStatusCompleted, mtime, jobID, model.JobStatusActive)
}

func (r *IndexJobRepo) Fail(ctx context.Context, jobID string, reason string, mtime int64) (bool, error) {
	const query = `
		UPDATE index_jobs
		SET status = $1, failure_reason = $2, credential = '', mtime = $3
		WHERE id = $4 AND status = $5
	`
	return r.execAffected(ctx, query, model.JobStatusFailed, reason, mtime, jobID, model.JobStatusActive)
}

// FailStale fails active jobs that have not been written since before.
func (r *IndexJobRepo) FailStale(ctx context.Context, before int64, reason string, mtime int64) (int64, error) {
	const query = `
		UPDATE index_jobs
		SET status = $1, failure_reason = $2, credential = '', mtime = $3
		WHERE status = $4 AND mtime < $5
	`
	res, err := r.db.ExecContext(ctx, query, model.JobStatusFailed, reason, mtime, model.JobStatusActive, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBefore removes terminal jobs created before cutoff.
func (r *IndexJobRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM index_jobs WHERE ctime < $1 AND status IN ($2, $3)`
	res, err := r.db.ExecContext(ctx, query, cutoff, model.JobStatusCompleted, model.JobStatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *IndexJobRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM index_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, err
		}
		out[status] = cnt
	}
	return out, rows.Err()
}

func (r *IndexJobRepo) execAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndexJob(s rowScanner) (*model.IndexJob, error) {
	var job model.IndexJob
	if err := s.Scan(
		&job.ID,
		&job.UserID,
		&job.RepoURL,
		&job.RepoID,
		&job.Ref,
		&job.Credential,
		&job.Status,
		&job.Progress,
		&job.FailureReason,
		&job.FilesFound,
		&job.FilesFetched,
		&job.ChunksTotal,
		&job.Attempts,
		&job.Ctime,
		&job.Mtime,
	); err != nil {
		return nil, err
	}
	return &job, nil
}
