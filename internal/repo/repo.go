package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"yumimaint/internal/domain"
)

// Repo is the persistent task store: one maintenance_history row per task name.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

// TimeLayout is the textual timestamp form in the store. Values are written in UTC
// with full nanosecond precision so they parse back to the same instant.
const TimeLayout = time.RFC3339Nano

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (string, domain.TaskState, error) {
	var (
		name      string
		lastDone  sql.NullString
		nextCheck string
		firstDone int
		st        domain.TaskState
	)
	if err := row.Scan(&name, &lastDone, &nextCheck, &firstDone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", st, ErrNotFound
		}
		return "", st, err
	}
	if lastDone.Valid && lastDone.String != "" {
		t, err := ParseTime(lastDone.String)
		if err != nil {
			return "", st, fmt.Errorf("task %s: parse last_done: %w", name, err)
		}
		st.LastDone = &t
	}
	if nextCheck != "" {
		t, err := ParseTime(nextCheck)
		if err != nil {
			return "", st, fmt.Errorf("task %s: parse next_check: %w", name, err)
		}
		st.NextCheck = t
	}
	st.FirstDone = firstDone != 0
	return name, st, nil
}

// GetState loads the state of one task or returns ErrNotFound.
func (r Repo) GetState(ctx context.Context, name string) (domain.TaskState, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT name,last_done,next_check,first_done FROM maintenance_history WHERE name=?`, name)
	_, st, err := scanState(row)
	return st, err
}

// ListStates returns every persisted state keyed by task name.
func (r Repo) ListStates(ctx context.Context) (map[string]domain.TaskState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,last_done,next_check,first_done FROM maintenance_history ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.TaskState{}
	for rows.Next() {
		name, st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out[name] = st
	}
	return out, rows.Err()
}

// UpsertState writes the state for name. Writing identical data twice is a no-op
// apart from updated_at.
func (r Repo) UpsertState(ctx context.Context, name string, st domain.TaskState) error {
	return r.upsert(ctx, r.DB, name, st)
}

func (r Repo) UpsertStateTx(ctx context.Context, tx *sql.Tx, name string, st domain.TaskState) error {
	return r.upsert(ctx, tx, name, st)
}

func (r Repo) upsert(ctx context.Context, x execer, name string, st domain.TaskState) error {
	if name == "" {
		return errors.New("task name is required")
	}
	_, err := x.ExecContext(ctx, `INSERT INTO maintenance_history(name,last_done,next_check,first_done,updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET last_done=excluded.last_done, next_check=excluded.next_check, first_done=excluded.first_done, updated_at=excluded.updated_at`,
		name, nullableTime(st.LastDone), FormatTime(st.NextCheck), boolToInt(st.FirstDone), FormatTime(r.now()))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// DeleteAll removes every task state.
func (r Repo) DeleteAll(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM maintenance_history`); err != nil {
		return fmt.Errorf("delete maintenance history: %w", err)
	}
	return nil
}

// ReplaceAll deletes all states and writes states in a single transaction.
// On error nothing is changed.
func (r Repo) ReplaceAll(ctx context.Context, states map[string]domain.TaskState) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM maintenance_history`); err != nil {
		return fmt.Errorf("delete maintenance history: %w", err)
	}
	for name, st := range states {
		if err := r.UpsertStateTx(ctx, tx, name, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
