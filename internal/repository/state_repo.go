// Package repository provides data access for persisted hub state.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StateRepository persists the hub's authoritative key/value state. Values
// are stored as JSON text so arbitrary JSON-serializable values round-trip.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Upsert stores value under key, replacing any previous value.
func (r *StateRepository) Upsert(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value for %q: %w", key, err)
	}

	query := `
		INSERT INTO hub_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert state key %q: %w", key, err)
	}
	return nil
}

// UpsertAll stores every entry of partial in one transaction.
func (r *StateRepository) UpsertAll(ctx context.Context, partial map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO hub_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for key, value := range partial {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to serialize value for %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, query, key, string(data), now); err != nil {
			return fmt.Errorf("failed to upsert state key %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state update: %w", err)
	}
	return nil
}

// LoadAll returns every persisted key/value pair with values JSON-decoded.
func (r *StateRepository) LoadAll(ctx context.Context) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM hub_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to parse value for %q: %w", key, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state rows: %w", err)
	}
	return out, nil
}

// Delete removes key from the persisted state. Deleting an absent key is
// not an error.
func (r *StateRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hub_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete state key %q: %w", key, err)
	}
	return nil
}
