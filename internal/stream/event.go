package stream

import "github.com/xxxsen/repoqa/internal/model"

const (
	TypeStatus      = "status"
	TypeAnswerChunk = "answer_chunk"
	TypeCitations   = "citations"
	TypeComplete    = "complete"
	TypeError       = "error"
)

// Event is one `data:` frame of the answer stream.
type Event struct {
	Type     string      `json:"type"`
	Message  string      `json:"message,omitempty"`
	Content  string      `json:"content,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Question string      `json:"question,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

func StatusEvent(msg string) Event {
	return Event{Type: TypeStatus, Message: msg}
}

func ChunkEvent(content string) Event {
	return Event{Type: TypeAnswerChunk, Content: content}
}

func CitationsEvent(citations []model.Citation, question string) Event {
	if citations == nil {
		citations = []model.Citation{}
	}
	return Event{Type: TypeCitations, Data: citations, Question: question}
}

func CompleteEvent() Event {
	return Event{Type: TypeComplete}
}

func ErrorEvent(msg string) Event {
	return Event{Type: TypeError, Message: msg}
}
