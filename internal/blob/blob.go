// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package blob stores attachment bytes outside chat state.
//
// Chats only hold model.AttachmentRef values; the bytes live in a SQLite
// files table keyed by a random UUID.
package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/sqlitedb"
)

const filesSchema = `CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    size INTEGER NOT NULL,
    data BLOB NOT NULL,
    timestamp INTEGER NOT NULL
)`

const timestampIndex = `CREATE INDEX IF NOT EXISTS idx_files_timestamp ON files(timestamp)`

// DefaultMaxAge is how long unreferenced blobs are kept by Cleanup.
const DefaultMaxAge = 30 * 24 * time.Hour

// ErrEmptyBlob is returned when storing a blob without data.
var ErrEmptyBlob = errors.New("blob has no data")

// Blob is an attachment with its bytes.
type Blob struct {
	ID        string
	Name      string
	Type      string
	Size      int64
	Data      []byte
	Timestamp time.Time
}

// Ref returns the reference that chat state keeps for this blob.
func (b Blob) Ref() model.AttachmentRef {
	return model.AttachmentRef{ID: b.ID, Name: b.Name, Type: b.Type, Size: b.Size}
}

// Usage summarizes what the store holds.
type Usage struct {
	Count int
	Bytes int64
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed blob store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the blob database at path (sqlitedb.Memory for tests).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, filesSchema, timestampIndex)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores b under a new ID and returns its reference. Size is taken from
// the data.
func (s *Store) Put(ctx context.Context, b Blob) (model.AttachmentRef, error) {
	if len(b.Data) == 0 {
		return model.AttachmentRef{}, ErrEmptyBlob
	}
	b.ID = uuid.NewString()
	b.Size = int64(len(b.Data))
	if b.Type == "" {
		b.Type = "application/octet-stream"
	}
	b.Timestamp = s.now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files (id, name, type, size, data, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		b.ID, b.Name, b.Type, b.Size, b.Data, b.Timestamp.UnixMilli())
	if err != nil {
		return model.AttachmentRef{}, fmt.Errorf("failed to store blob %s: %w", b.Name, err)
	}
	return b.Ref(), nil
}

// Get returns the blob with id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Blob, error) {
	var b Blob
	var ts int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, type, size, data, timestamp FROM files WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &b.Type, &b.Size, &b.Data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	b.Timestamp = time.UnixMilli(ts)
	return &b, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

// List returns metadata for every stored blob, oldest first.
func (s *Store) List(ctx context.Context) ([]model.AttachmentRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, type, size FROM files ORDER BY timestamp, id")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var refs []model.AttachmentRef
	for rows.Next() {
		var r model.AttachmentRef
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Size); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// Cleanup deletes blobs older than maxAge whose IDs are not in keep, and
// returns how many were removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, keep map[string]bool) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixMilli()
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM files WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan failed: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for i, id := range stale {
		if err := s.Delete(ctx, id); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// Usage reports the number of blobs and their total size.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files").Scan(&u.Count, &u.Bytes)
	if err != nil {
		return Usage{}, fmt.Errorf("query failed: %w", err)
	}
	return u, nil
}

// Clear removes every blob.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("failed to clear blobs: %w", err)
	}
	return nil
}
