package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/incast-service/internal/models"
)

// BlobStore is key addressed storage over a single named container
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns models.ErrBlobNotFound when key does not exist
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys starting with prefix, in no particular order
	List(ctx context.Context, prefix string) ([]string, error)
}

// Repository stores blobs in the incast.model_blobs table
type Repository struct {
	db     *sql.DB
	bucket string
}

// NewRepository initializes a new repository for the given bucket
func NewRepository(db *sql.DB, bucket string) *Repository {
	return &Repository{db: db, bucket: bucket}
}

// Migrate creates the blob table when it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	query := `
		CREATE SCHEMA IF NOT EXISTS incast;
		CREATE TABLE IF NOT EXISTS incast.model_blobs (
			bucket     TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			data       BYTEA       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (bucket, key)
		)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate blob table: %w", err)
	}
	return nil
}

// Put writes data under key, replacing any previous blob
func (r *Repository) Put(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO incast.model_blobs (bucket, key, data, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (bucket, key) DO UPDATE SET data = EXCLUDED.data, updated_at = CURRENT_TIMESTAMP`
	if _, err := r.db.ExecContext(ctx, query, r.bucket, key, data); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

// Get retrieves the blob stored under key
func (r *Repository) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	query := `
		SELECT data
		FROM incast.model_blobs
		WHERE bucket = $1 AND key = $2`
	err := r.db.QueryRowContext(ctx, query, r.bucket, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return data, nil
}

// List returns the keys of the bucket starting with prefix
func (r *Repository) List(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT key
		FROM incast.model_blobs
		WHERE bucket = $1 AND key LIKE $2 ESCAPE '\'`
	rows, err := r.db.QueryContext(ctx, query, r.bucket, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan blob key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
