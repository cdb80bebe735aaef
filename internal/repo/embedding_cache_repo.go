package repo

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/repoqa/internal/model"
)

// EmbeddingCacheRepo stores chunk and question embeddings as pgvector rows.
// Rows are keyed by model, task type and content hash; the dimension is kept
// next to the vector so a collection resize never serves stale lengths.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

// Lookup returns the cached vector for key when it has dims values (any length
// when dims is 0) and bumps its atime so entries in use survive cleanup.
func (r *EmbeddingCacheRepo) Lookup(ctx context.Context, key model.EmbeddingKey, dims int, now int64) ([]float32, bool, error) {
	const query = `
		UPDATE embedding_cache
		SET atime = $1
		WHERE model_name = $2 AND task_type = $3 AND content_hash = $4
		AND ($5 = 0 OR dims = $5)
		RETURNING embedding
	`
	var embedding pgvector.Vector
	err := r.db.QueryRowContext(ctx, query, now, key.ModelName, key.TaskType, key.ContentHash, dims).Scan(&embedding)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return embedding.Slice(), true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, dims, embedding, atime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			dims = EXCLUDED.dims,
			embedding = EXCLUDED.embedding,
			atime = EXCLUDED.atime
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ModelName,
		item.TaskType,
		item.ContentHash,
		len(item.Embedding),
		pgvector.NewVector(item.Embedding),
		item.Atime,
	)
	return err
}

// DeleteBefore drops entries not used since cutoff.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM embedding_cache WHERE atime < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
