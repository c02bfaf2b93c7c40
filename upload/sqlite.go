package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository stores upload records in a SQLite file.
type SQLiteRepository struct {
	db        *sql.DB
	tableName string
}

// NewSQLiteRepository opens the database at path and creates the schema.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	repo := &SQLiteRepository{db: db, tableName: defaultTable}
	if err := repo.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (r *SQLiteRepository) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`, r.tableName)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, filename, path, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.tableName)

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Filename, rec.Path, string(rec.Status), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a record by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT id, filename, path, status, error, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, r.tableName)

	var (
		rec    Record
		status string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Filename, &rec.Path, &status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	rec.Status = Status(status)
	return &rec, nil
}

// UpdateStatus moves a record to status, recording message on failure.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, message string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, error = ?, updated_at = ? WHERE id = ?`, r.tableName)

	res, err := r.db.ExecContext(ctx, query, string(status), message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update upload %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update upload %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
