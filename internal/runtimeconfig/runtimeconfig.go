// Package runtimeconfig projects the database-backed runtime_config table
// into an in-memory, typed accessor the core reads without touching
// storage on every access. It is refreshed by the reload coordinator's
// Config target, separate from the process's static env-var configuration
// in internal/config.
package runtimeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one row of the runtime_config table. A changed value is visible
// in the projection immediately, but components must not alter live
// behavior from an entry flagged RequiresRestart until the process
// restarts.
type Entry struct {
	Key             string
	Value           string
	ValueType       string
	IsSensitive     bool
	RequiresRestart bool
	UpdatedAt       time.Time
}

// Store is the in-memory projection, safe for concurrent reads and a
// single writer (ReloadConfig).
type Store struct {
	pool *pgxpool.Pool

	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty Store backed by pool. Call ReloadConfig once at
// startup to populate it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, entries: make(map[string]Entry)}
}

// ReloadConfig refreshes the projection from the database, implementing
// reload.ConfigReloader so the coordinator can drive it directly. A Store that
// was never given a pool (runtime config not initialized) warns and
// succeeds rather than failing the surrounding reload.
func (s *Store) ReloadConfig(ctx context.Context) error {
	if s.pool == nil {
		slog.Warn("runtimeconfig: not initialized, skipping config reload")
		return nil
	}

	const query = `SELECT key, value, value_type, is_sensitive, requires_restart, updated_at FROM runtime_config`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("runtimeconfig: query: %w", err)
	}
	defer rows.Close()

	fresh := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.ValueType, &e.IsSensitive, &e.RequiresRestart, &e.UpdatedAt); err != nil {
			return fmt.Errorf("runtimeconfig: scan: %w", err)
		}
		fresh[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("runtimeconfig: rows: %w", err)
	}

	s.mu.Lock()
	s.entries = fresh
	s.mu.Unlock()
	return nil
}

// Set persists key=value and refreshes the in-memory entry for it, without
// requiring a full reload.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO runtime_config (key, value, value_type, updated_at)
		VALUES ($1, $2, 'string', now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("runtimeconfig: set %q: %w", key, err)
	}

	s.mu.Lock()
	s.entries[key] = Entry{Key: key, Value: value, ValueType: "string", UpdatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Store) lookup(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// String returns key's value, or def if absent.
func (s *Store) String(key, def string) string {
	if e, ok := s.lookup(key); ok {
		return e.Value
	}
	return def
}

// Int returns key's value parsed as an int, or def if absent or
// unparseable.
func (s *Store) Int(key string, def int) int {
	e, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(e.Value)
	if err != nil {
		return def
	}
	return v
}

// Uint64 returns key's value parsed as a uint64, or def if absent or
// unparseable.
func (s *Store) Uint64(key string, def uint64) uint64 {
	e, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseUint(e.Value, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// Bool returns key's value parsed as a bool, or def if absent or
// unparseable.
func (s *Store) Bool(key string, def bool) bool {
	e, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(e.Value)
	if err != nil {
		return def
	}
	return v
}
