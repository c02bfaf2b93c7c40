package upload

import (
	"context"
	"errors"
	"time"
)

// Status is the embedding state of an upload.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusEmbedded Status = "embedded"
	StatusFailed   Status = "failed"
)

// ErrNotFound is returned when no upload has the requested id.
var ErrNotFound = errors.New("upload not found")

// defaultTable is the table upload records live in.
const defaultTable = "uploads"

// Record describes one uploaded file.
type Record struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists upload records.
type Repository interface {
	InitSchema(ctx context.Context) error
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, message string) error
	Close() error
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
