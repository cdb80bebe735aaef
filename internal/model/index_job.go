package model

const (
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type IndexJob struct {
	ID            string `json:"job_id"`
	UserID        string `json:"-"`
	RepoURL       string `json:"repo_url"`
	RepoID        string `json:"repo_id"`
	Ref           string `json:"ref"`
	Credential    string `json:"-"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	FailureReason string `json:"failure_reason,omitempty"`
	FilesFound    int    `json:"files_found"`
	FilesFetched  int    `json:"files_fetched"`
	ChunksTotal   int    `json:"chunks_total"`
	Attempts      int    `json:"attempts"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}

func (j *IndexJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobReport carries the counters an indexing run records next to its progress.
type JobReport struct {
	FilesFound   int
	FilesFetched int
	ChunksTotal  int
}
