// Package registry is the sole owner of the durable process store. All other
// components read and mutate process state through it.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/hezky/lab-heartbeat/internal/logging"
)

// timeLayout is how timestamps are persisted. RFC3339 in UTC sorts
// lexicographically, which CleanupStale relies on.
const timeLayout = time.RFC3339

// Registry provides atomic CRUD and state-transition operations over the
// process store. Safe for concurrent use; mutations are serialized by a
// process-wide mutex on top of SQLite's own transactional writes.
type Registry struct {
	db      *sql.DB
	mu      sync.Mutex
	nowFunc func() time.Time // For testing; defaults to time.Now
}

// OpenPath opens (creating if needed) the registry store at dbPath and runs
// migrations.
func OpenPath(ctx context.Context, dbPath string) (*Registry, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Registry{
		db:      db,
		nowFunc: time.Now,
	}, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.db.Close()
}

// SetNowFunc sets the time source used for timestamps and id minting.
// This is primarily for testing purposes.
func (r *Registry) SetNowFunc(f func() time.Time) {
	r.nowFunc = f
}

// Register inserts a new record in StateRegistered and returns its freshly
// minted id. Returns ErrNameConflict if the name is already taken.
func (r *Registry) Register(ctx context.Context, config *ProcessConfig) (string, error) {
	if err := config.Validate(); err != nil {
		return "", fmt.Errorf("invalid process config: %w", err)
	}

	configJSON, err := MarshalJSONConfig(config)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	id := fmt.Sprintf("%s_%s", config.Name, now.Format("20060102_150405"))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM processes WHERE name = ?`, config.Name).Scan(&existing)
	if err == nil {
		return "", fmt.Errorf("%w: %s", ErrNameConflict, config.Name)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to check name: %w", err)
	}

	ts := now.UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO processes (id, name, config, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, config.Name, configJSON, string(StateRegistered), ts, ts)
	if err != nil {
		return "", fmt.Errorf("failed to insert process: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	logging.Info("registered process", "id", id, "name", config.Name)
	return id, nil
}

// Unregister removes a record. It refuses to remove records that are not in
// StateRegistered or a terminal state: callers must stop the process first.
// Returns whether a row was deleted.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM processes WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read process state: %w", err)
	}

	s := ProcessState(state)
	if s != StateRegistered && !s.Terminal() {
		return false, fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, s)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete process: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	logging.Info("unregistered process", "id", id)
	return rows > 0, nil
}

// Get returns the record with the given id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*ProcessInfo, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

// GetByName returns the record with the given name, or ErrNotFound.
func (r *Registry) GetByName(ctx context.Context, name string) (*ProcessInfo, error) {
	return r.getWhere(ctx, `name = ?`, name)
}

const selectColumns = `id, name, config, state, pid, started_at, stopped_at,
	restart_count, last_heartbeat, error_message, created_at, updated_at`

func (r *Registry) getWhere(ctx context.Context, where string, arg any) (*ProcessInfo, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM processes WHERE `+where, arg)

	info, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read process: %w", err)
	}
	return info, nil
}

// List enumerates records in insertion order. A non-empty state filters the
// result.
func (r *Registry) List(ctx context.Context, state ProcessState) ([]*ProcessInfo, error) {
	query := `SELECT ` + selectColumns + ` FROM processes`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var result []*ProcessInfo
	for rows.Next() {
		info, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// UpdateState applies a state transition with its entry side effects:
// entering StateRunning sets started_at and clears stopped_at; entering a
// terminal state sets stopped_at and clears pid. The pid is recorded only
// when provided. Identical transitions are idempotent; illegal ones are
// rejected with ErrIllegalTransition and leave the record untouched.
func (r *Registry) UpdateState(ctx context.Context, id string, state ProcessState, pid *int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM processes WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read process state: %w", err)
	}

	from := ProcessState(current)
	if !CanTransition(from, state) {
		logging.Warn("rejected illegal state transition",
			"id", id, "from", string(from), "to", string(state))
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, state)
	}

	now := r.nowFunc().UTC().Format(timeLayout)
	updates := []string{"state = ?", "updated_at = ?"}
	params := []any{string(state), now}

	if pid != nil {
		updates = append(updates, "pid = ?")
		params = append(params, *pid)
	}

	switch {
	case state == StateRunning:
		updates = append(updates, "started_at = ?", "stopped_at = NULL")
		params = append(params, now)
	case state.Terminal():
		updates = append(updates, "stopped_at = ?", "pid = NULL")
		params = append(params, now)
	}

	if errMsg != "" {
		updates = append(updates, "error_message = ?")
		params = append(params, errMsg)
	}

	params = append(params, id)
	query := "UPDATE processes SET "
	for i, u := range updates {
		if i > 0 {
			query += ", "
		}
		query += u
	}
	query += " WHERE id = ?"

	if _, err := tx.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logging.Debug("process state updated", "id", id, "from", string(from), "to", string(state))
	return nil
}

// UpdateHeartbeat records a heartbeat for the process now.
func (r *Registry) UpdateHeartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc().UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx,
		`UPDATE processes SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// IncrementRestartCount atomically bumps the restart counter.
func (r *Registry) IncrementRestartCount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx,
		`UPDATE processes SET restart_count = restart_count + 1, updated_at = ? WHERE id = ?`,
		r.nowFunc().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to increment restart count: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// CleanupStale transitions every StateRunning record whose last heartbeat is
// older than the timeout into StateCrashed. Records that never sent a
// heartbeat are left alone. Returns the number of records transitioned.
func (r *Registry) CleanupStale(ctx context.Context, timeout time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	cutoff := now.Add(-timeout).UTC().Format(timeLayout)
	ts := now.UTC().Format(timeLayout)

	res, err := r.db.ExecContext(ctx, `
		UPDATE processes
		SET state = ?, error_message = ?, stopped_at = ?, pid = NULL, updated_at = ?
		WHERE state = ?
		AND last_heartbeat IS NOT NULL
		AND last_heartbeat < ?`,
		string(StateCrashed), "heartbeat timeout", ts, ts,
		string(StateRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale processes: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		logging.Warn("cleaned up stale processes", "count", rows, "timeout", timeout.String())
	}
	return int(rows), nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProcess(s scanner) (*ProcessInfo, error) {
	var (
		info          ProcessInfo
		name          string
		configJSON    string
		state         string
		pid           sql.NullInt64
		startedAt     sql.NullString
		stoppedAt     sql.NullString
		lastHeartbeat sql.NullString
		errorMessage  sql.NullString
		createdAt     string
		updatedAt     string
	)

	if err := s.Scan(&info.ID, &name, &configJSON, &state, &pid,
		&startedAt, &stoppedAt, &info.RestartCount, &lastHeartbeat,
		&errorMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	config, err := UnmarshalJSONConfig(configJSON)
	if err != nil {
		return nil, err
	}

	info.Config = config
	info.State = ProcessState(state)
	if pid.Valid {
		p := int(pid.Int64)
		info.PID = &p
	}
	info.StartedAt = parseNullTime(startedAt)
	info.StoppedAt = parseNullTime(stoppedAt)
	info.LastHeartbeat = parseNullTime(lastHeartbeat)
	if errorMessage.Valid {
		info.ErrorMessage = errorMessage.String
	}
	info.CreatedAt = parseTime(createdAt)
	info.UpdatedAt = parseTime(updatedAt)

	return &info, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// parseTime accepts both RFC3339 (what the registry writes) and the SQLite
// CURRENT_TIMESTAMP format (what column defaults produce).
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
