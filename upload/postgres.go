package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores upload records in PostgreSQL. It borrows its
// pool; the owner of the pool closes it.
type PostgresRepository struct {
	pool      DBPool
	tableName string
}

// NewPostgresRepositoryWithPool creates a repository on an existing pool,
// such as a *pgxpool.Pool or a pgxmock pool.
func NewPostgresRepositoryWithPool(pool DBPool, tableName string) *PostgresRepository {
	if tableName == "" {
		tableName = defaultTable
	}
	return &PostgresRepository{pool: pool, tableName: tableName}
}

// InitSchema creates the necessary table if it doesn't exist
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, r.tableName)

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create inserts a new record.
func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, filename, path, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tableName)

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Filename, rec.Path, string(rec.Status), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a record by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT id, filename, path, status, error, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tableName)

	var (
		rec    Record
		status string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Filename, &rec.Path, &status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	rec.Status = Status(status)
	return &rec, nil
}

// UpdateStatus moves a record to status, recording message on failure.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status, message string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, error = $3, updated_at = $4
		WHERE id = $1
	`, r.tableName)

	tag, err := r.pool.Exec(ctx, query, id, string(status), message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update upload %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close is a no-op. The pool is closed by whoever created it.
func (r *PostgresRepository) Close() error {
	return nil
}
