package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

// KeyFor hashes text so chunk bodies never become part of a cache key.
func KeyFor(modelName, taskType, text string) model.EmbeddingKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	sum := sha256.Sum256([]byte(text))
	return model.EmbeddingKey{ModelName: modelName, TaskType: taskType, ContentHash: hex.EncodeToString(sum[:])}
}

// checkDims rejects a vector the collection could not store. dims 0 accepts
// any length.
func checkDims(vec []float32, dims int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", appErr.ErrEmbeddingDimension)
	}
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: got %d values, want %d", appErr.ErrEmbeddingDimension, len(vec), dims)
	}
	return nil
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
