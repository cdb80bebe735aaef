package model

// EmbeddingKey identifies a cached embedding. ContentHash is the sha256 of the
// embedded text.
type EmbeddingKey struct {
	ModelName   string
	TaskType    string
	ContentHash string
}

// EmbeddingCache is one persisted embedding. Atime is the last time it was
// written or read, cleanup expires entries by it.
type EmbeddingCache struct {
	EmbeddingKey
	Dims      int       `json:"dims"`
	Embedding []float32 `json:"embedding"`
	Atime     int64     `json:"atime"`
}
