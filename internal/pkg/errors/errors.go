package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal")
)

// Pipeline failures. Per-file fetch and parse errors are absorbed by the
// caller, the rest terminate a job or a request.
var (
	ErrFetch                   = errors.New("fetch failed")
	ErrParse                   = errors.New("parse failed")
	ErrBatchUpsert             = errors.New("batch upsert failed")
	ErrRetrievalUnavailable    = errors.New("retrieval unavailable")
	ErrRerankDegraded          = errors.New("rerank degraded")
	ErrSchemaViolation         = errors.New("schema violation")
	ErrConversationPersistence = errors.New("conversation persistence failed")
	ErrEmbeddingDimension      = errors.New("embedding dimension mismatch")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsRetrievalUnavailable(err error) bool {
	return errors.Is(err, ErrRetrievalUnavailable)
}
