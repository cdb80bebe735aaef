package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Citation struct {
	File      string `json:"file" jsonschema:"description=Repository relative path of the cited file"`
	StartLine int    `json:"startLine" jsonschema:"description=First cited line (1 based)"`
	EndLine   int    `json:"endLine" jsonschema:"description=Last cited line (inclusive)"`
	Snippet   string `json:"snippet" jsonschema:"description=Verbatim code excerpt the answer relies on"`
}

// Answer is the only shape accepted from the generation model.
type Answer struct {
	Answer    string     `json:"answer" jsonschema:"description=Answer to the question in markdown"`
	Citations []Citation `json:"citations" jsonschema:"description=Code locations supporting the answer"`
}

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

type ConversationSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"-"`
	RepoURL   string    `json:"repo_url"`
	Messages  []Message `json:"messages,omitempty"`
	Ctime     int64     `json:"ctime"`
	Mtime     int64     `json:"mtime"`
}
