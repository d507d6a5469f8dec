// Package store persists profile documents in SQL databases so fleets of
// sessions can share base, browser, site and bundle layers.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/profile"
)

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaPG = `
CREATE TABLE IF NOT EXISTS profile_documents (
    layer      TEXT NOT NULL,
    name       TEXT NOT NULL,
    format     TEXT NOT NULL,
    body       TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (layer, name)
);`

const selectPG = `SELECT format, body FROM profile_documents WHERE layer = $1 AND name = $2`

const upsertPG = `
INSERT INTO profile_documents (layer, name, format, body, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (layer, name) DO UPDATE SET
    format = EXCLUDED.format,
    body = EXCLUDED.body,
    updated_at = EXCLUDED.updated_at;`

// Store is a PostgreSQL backed profile.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ profile.Store = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the documents table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaPG); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Read implements profile.Store.
func (s *Store) Read(ctx context.Context, layer profile.Layer, name string) (profile.Raw, error) {
	var format, body string
	err := s.pool.QueryRow(ctx, selectPG, string(layer), name).Scan(&format, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.Raw{}, fmt.Errorf("%w: %s/%s", profile.ErrProfileNotFound, layer, name)
	}
	if err != nil {
		return profile.Raw{}, fmt.Errorf("failed to read %s/%s: %w", layer, name, err)
	}
	return profile.Raw{Format: profile.Format(format), Body: []byte(body)}, nil
}

// Put inserts or replaces a single document.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if _, err := s.pool.Exec(ctx, upsertPG, string(doc.Layer), doc.Name, string(doc.Raw.Format), string(doc.Raw.Body)); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", doc.Layer, doc.Name, err)
	}
	return nil
}

// Import upserts every document in docs inside one transaction.
func (s *Store) Import(ctx context.Context, docs []Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, doc := range docs {
		if _, err := tx.Exec(ctx, upsertPG, string(doc.Layer), doc.Name, string(doc.Raw.Format), string(doc.Raw.Body)); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", doc.Layer, doc.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Imported profile documents", zap.Int("count", len(docs)))
	return nil
}

// Document is a stored layer document with its address.
type Document struct {
	Layer profile.Layer
	Name  string
	Raw   profile.Raw
}

var layers = []profile.Layer{profile.LayerBase, profile.LayerBrowser, profile.LayerSite, profile.LayerBundle}

// Collect walks the layer directories of fsys and returns every document,
// named by file name without extension.
func Collect(fsys fs.FS) ([]Document, error) {
	var docs []Document
	for _, layer := range layers {
		entries, err := fs.ReadDir(fsys, string(layer))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", layer, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			p := path.Join(string(layer), e.Name())
			body, err := fs.ReadFile(fsys, p)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", p, err)
			}
			docs = append(docs, Document{
				Layer: layer,
				Name:  strings.TrimSuffix(e.Name(), path.Ext(e.Name())),
				Raw:   profile.Raw{Format: profile.FormatFromPath(p), Body: body},
			})
		}
	}
	return docs, nil
}
