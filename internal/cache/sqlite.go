// Package cache keeps the last-known-good combination set per owner in SQLite.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS combination_cache (
    owner_id    TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

// entry is the persisted form of a combination.
type entry struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Target    string   `json:"target"`
	Sequence  []string `json:"sequence"`
	Message   string   `json:"message,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// SQLite is a durable key-value cache, one row per owner.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load returns the cached set for owner, or errs.ErrNotFound.
func (s *SQLite) Load(ctx context.Context, owner uuid.UUID) ([]model.Combination, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM combination_cache WHERE owner_id = ?`, owner.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	out := make([]model.Combination, 0, len(entries))
	for _, e := range entries {
		seq, err := model.ParseSequence(e.Sequence)
		if err != nil {
			continue
		}
		target, _ := uuid.FromString(e.Target)
		out = append(out, model.Combination{
			ID:        e.ID,
			OwnerID:   owner,
			Name:      e.Name,
			TargetID:  target,
			Sequence:  seq,
			Message:   e.Message,
			CreatedAt: time.UnixMilli(e.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// Save replaces the cached set for owner in a single transaction.
func (s *SQLite) Save(ctx context.Context, owner uuid.UUID, combos []model.Combination) error {
	entries := make([]entry, 0, len(combos))
	for _, c := range combos {
		entries = append(entries, entry{
			ID:        c.ID,
			Name:      c.Name,
			Target:    c.TargetID.String(),
			Sequence:  c.Sequence.Strings(),
			Message:   c.Message,
			CreatedAt: c.CreatedAt.UnixMilli(),
		})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM combination_cache WHERE owner_id = ?`, owner.String()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO combination_cache (owner_id, payload, updated_at) VALUES (?, ?, ?)`,
		owner.String(), string(payload), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return tx.Commit()
}

// Delete removes the owner's entry. Deleting a missing entry is not an error.
func (s *SQLite) Delete(ctx context.Context, owner uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM combination_cache WHERE owner_id = ?`, owner.String()); err != nil {
		return fmt.Errorf("delete cache: %w", err)
	}
	return nil
}
