package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/hostenv/internal/profile"
)

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS profile_documents (
    layer      TEXT NOT NULL,
    name       TEXT NOT NULL,
    format     TEXT NOT NULL,
    body       TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (layer, name)
);`

const upsertSQLite = `
INSERT INTO profile_documents (layer, name, format, body, updated_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (layer, name) DO UPDATE SET
    format = excluded.format,
    body = excluded.body,
    updated_at = excluded.updated_at;`

// SQLiteStore is a profile.Store backed by a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ profile.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	pragmas := []string{"PRAGMA busy_timeout = 10000", "PRAGMA synchronous = NORMAL"}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Named("sqlite_store")}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Read implements profile.Store.
func (s *SQLiteStore) Read(ctx context.Context, layer profile.Layer, name string) (profile.Raw, error) {
	var format, body string
	err := s.db.QueryRowContext(ctx,
		`SELECT format, body FROM profile_documents WHERE layer = ? AND name = ?`,
		string(layer), name,
	).Scan(&format, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Raw{}, fmt.Errorf("%w: %s/%s", profile.ErrProfileNotFound, layer, name)
	}
	if err != nil {
		return profile.Raw{}, fmt.Errorf("failed to read %s/%s: %w", layer, name, err)
	}
	return profile.Raw{Format: profile.Format(format), Body: []byte(body)}, nil
}

// Put inserts or replaces a single document.
func (s *SQLiteStore) Put(ctx context.Context, doc Document) error {
	if _, err := s.db.ExecContext(ctx, upsertSQLite, string(doc.Layer), doc.Name, string(doc.Raw.Format), string(doc.Raw.Body)); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", doc.Layer, doc.Name, err)
	}
	return nil
}

// Import upserts every document in docs inside one transaction.
func (s *SQLiteStore) Import(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx, upsertSQLite, string(doc.Layer), doc.Name, string(doc.Raw.Format), string(doc.Raw.Body)); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", doc.Layer, doc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Imported profile documents", zap.Int("count", len(docs)))
	return nil
}
