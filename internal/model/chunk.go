package model

// EmptyContent replaces the body of a chunk whose content is blank, so the
// file is still represented in the index.
const EmptyContent = "Empty file"

// Chunk is a unit of source text with its location. It is created during
// ingestion and never mutated afterwards.
type Chunk struct {
	RepoID          string `json:"repo_id"`
	FilePath        string `json:"file_path"`
	DeclarationName string `json:"declaration_name"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	Content         string `json:"content"`
	IsEmpty         bool   `json:"is_empty"`
	// Part is the window index once a chunk has been split, 0 otherwise.
	Part int `json:"part"`
}

// ScoredChunk is a retrieved chunk with the id of the record it came from.
type ScoredChunk struct {
	PointID string  `json:"point_id"`
	Score   float32 `json:"score"`
	Chunk   Chunk   `json:"chunk"`
}

type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
