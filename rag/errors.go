package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a missing or malformed document id or question.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDocumentNotReady is returned when an upload exists but has no embeddings yet.
	ErrDocumentNotReady = errors.New("document not ready")

	// ErrExtractionSchemaViolation is returned when the model does not answer
	// with the entity list schema.
	ErrExtractionSchemaViolation = errors.New("entity extraction schema violation")

	// ErrRetrievalUnavailable is returned when a graph or vector store call fails.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrToolExecution is matched by every *ToolError.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrNoSearchTerms is returned when a fulltext query has no tokens left
	// after cleaning.
	ErrNoSearchTerms = errors.New("no searchable terms")
)

// ToolError reports which agent tool failed.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrToolExecution) hold for any ToolError.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolExecution
}

// Unavailable wraps a store failure as ErrRetrievalUnavailable, keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrRetrievalUnavailable, err)
}
