// Package duckdb persists slot state in an embedded DuckDB database so
// orchestration jobs survive process restarts.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS slot_state (
	slot       VARCHAR PRIMARY KEY,
	payload    VARCHAR NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

type SlotStore struct {
	db *sql.DB
}

var _ ports.SlotStore = (*SlotStore)(nil)

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*SlotStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb at %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring slot_state schema: %w", err)
	}
	return &SlotStore{db: db}, nil
}

func (s *SlotStore) Load(ctx context.Context, slot string) (*domain.SlotState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM slot_state WHERE slot = ?`, slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading slot %q: %w", slot, err)
	}

	var state domain.SlotState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decoding slot %q payload: %w", slot, err)
	}
	return &state, nil
}

func (s *SlotStore) Save(ctx context.Context, state *domain.SlotState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding slot %q payload: %w", state.Slot, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slot_state (slot, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		state.Slot, string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("saving slot %q: %w", state.Slot, err)
	}
	return nil
}

func (s *SlotStore) Clear(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slot_state WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("clearing slot %q: %w", slot, err)
	}
	return nil
}

func (s *SlotStore) Close() error {
	return s.db.Close()
}
