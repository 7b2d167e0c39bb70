package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message,
// so sentinel errors still match after being re-created with a cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithCause returns a copy of e carrying err as its cause. The copy still
// matches e under errors.Is.
func (e *DomainError) WithCause(err error) *DomainError {
	return NewDomainErrorWithCause(e.Code, e.Message, err)
}

// ErrorCode returns the code of the first DomainError in err's chain, or "".
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Domain error codes
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeLoad           = "LOAD_ERROR"
	ErrCodeEmbedding      = "EMBEDDING_ERROR"
	ErrCodeIndexProvision = "INDEX_PROVISION_ERROR"
	ErrCodeUpsert         = "UPSERT_ERROR"
	ErrCodeQuery          = "QUERY_ERROR"
	ErrCodeSynthesis      = "SYNTHESIS_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery         = NewDomainError(ErrCodeValidation, "query is required")
	ErrInvalidIndexName   = NewDomainError(ErrCodeValidation, "invalid index name")
	ErrInvalidMetric      = NewDomainError(ErrCodeValidation, "invalid index metric")
	ErrInvalidDimension   = NewDomainError(ErrCodeValidation, "index dimension must be positive")
	ErrDimensionMismatch  = NewDomainError(ErrCodeValidation, "vector dimension does not match index dimension")
	ErrMissingRecordID    = NewDomainError(ErrCodeValidation, "index record id is required")
	ErrInvalidChunkConfig = NewDomainError(ErrCodeValidation, "invalid chunk configuration")
)

// Not found errors
var (
	ErrIndexNotFound     = NewDomainError(ErrCodeNotFound, "index not found")
	ErrIngestRunNotFound = NewDomainError(ErrCodeNotFound, "ingest run not found")
)

// Loader errors
var (
	ErrSourceNotFound = NewDomainError(ErrCodeLoad, "document source not found")
	ErrUnreadableFile = NewDomainError(ErrCodeLoad, "document could not be read")
	ErrUnparsableFile = NewDomainError(ErrCodeLoad, "document could not be parsed")
	ErrLoadFailed     = NewDomainError(ErrCodeLoad, "failed to load documents")
)

// Provider errors
var (
	ErrEmbeddingFailed   = NewDomainError(ErrCodeEmbedding, "failed to generate embeddings")
	ErrIndexProvisioning = NewDomainError(ErrCodeIndexProvision, "failed to provision index")
	ErrIndexNotReady     = NewDomainError(ErrCodeIndexProvision, "index did not become ready in time")
	ErrIndexMismatch     = NewDomainError(ErrCodeIndexProvision, "existing index has a different configuration")
	ErrUpsertFailed      = NewDomainError(ErrCodeUpsert, "failed to upsert records")
	ErrQueryFailed       = NewDomainError(ErrCodeQuery, "failed to query index")
	ErrSynthesisFailed   = NewDomainError(ErrCodeSynthesis, "failed to synthesize answer")
)
