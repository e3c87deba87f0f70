// Package journal records runner history in SQLite for inspection. It is never
// used to resume runners.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/runnerd/internal/runner"
)

const maxPayloadBytes = 64 * 1024

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Open records a started runner.
func (j *Journal) Open(ctx context.Context, req OpenRequest) error {
	if req.ID == "" {
		return fmt.Errorf("runner id is empty")
	}
	if req.Definition == "" {
		return fmt.Errorf("definition is empty")
	}

	var input any
	if len(req.Input) > 0 {
		input = string(req.Input)
	}
	var requestID any
	if req.RequestID != "" {
		requestID = req.RequestID
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO runner_log(id, definition, status, input, request_id, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, req.ID, req.Definition, StatusRunning, input, requestID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("open runner log: %w", err)
	}
	return nil
}

// AppendUpdate stores u with the next sequence number for runnerID.
func (j *Journal) AppendUpdate(ctx context.Context, runnerID string, u runner.Update) error {
	if runnerID == "" {
		return fmt.Errorf("runner id is empty")
	}
	payload, err := json.Marshal(truncateOutput(u))
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO runner_update(runner_id, seq, kind, payload, created_at)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
FROM runner_update
WHERE runner_id = ?;
`, runnerID, string(u.Kind), string(payload), time.Now().UTC().Format(time.RFC3339Nano), runnerID)
	if err != nil {
		return fmt.Errorf("append runner update: %w", err)
	}
	return nil
}

// Complete marks a running entry terminal. Completing an entry twice is an
// error; the first outcome wins.
func (j *Journal) Complete(ctx context.Context, runnerID string, status Status, exitStatus *int, lastError *string) error {
	if runnerID == "" {
		return fmt.Errorf("runner id is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	res, err := j.db.ExecContext(ctx, `
UPDATE runner_log
SET status = ?, completed_at = ?, exit_status = ?, last_error = ?
WHERE id = ? AND status = ?;
`, status, time.Now().UTC().Format(time.RFC3339Nano), exitStatus, lastError, runnerID, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete runner log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete runner log: %w", err)
	}
	if n == 0 {
		if _, err := j.Get(ctx, runnerID); err != nil {
			return err
		}
		return fmt.Errorf("runner %s already completed", runnerID)
	}
	return nil
}

// MarkAbandoned completes a running entry left behind by a previous process.
func (j *Journal) MarkAbandoned(ctx context.Context, runnerID, reason string) error {
	return j.Complete(ctx, runnerID, StatusAbandoned, nil, &reason)
}

const entryColumns = `id, definition, status, input, request_id, created_at, completed_at, exit_status, last_error`

func (j *Journal) Get(ctx context.Context, runnerID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM runner_log WHERE id = ?;`, runnerID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get runner log: %w", err)
	}
	return e, nil
}

// FindByStatus returns entries with the given status, oldest first.
func (j *Journal) FindByStatus(ctx context.Context, status Status) ([]*Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM runner_log
WHERE status = ?
ORDER BY created_at ASC, rowid ASC;
`, status)
	if err != nil {
		return nil, fmt.Errorf("find runner logs: %w", err)
	}
	return collectEntries(rows)
}

// List returns the most recent entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM runner_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runner logs: %w", err)
	}
	return collectEntries(rows)
}

// Updates returns the journaled updates of a runner in sequence order.
func (j *Journal) Updates(ctx context.Context, runnerID string) ([]UpdateRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, kind, payload, created_at
FROM runner_update
WHERE runner_id = ?
ORDER BY seq ASC;
`, runnerID)
	if err != nil {
		return nil, fmt.Errorf("list runner updates: %w", err)
	}
	defer rows.Close()

	var out []UpdateRecord
	for rows.Next() {
		var (
			rec        UpdateRecord
			payload    string
			createdAtS string
		)
		if err := rows.Scan(&rec.Seq, &rec.Kind, &payload, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan runner update: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes completed entries (and their updates) older than retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx, `
DELETE FROM runner_log
WHERE completed_at IS NOT NULL AND completed_at < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runner logs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e            Entry
		statusS      string
		input        sql.NullString
		requestID    sql.NullString
		createdAtS   string
		completedAtS sql.NullString
		exitStatus   sql.NullInt64
		lastError    sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Definition, &statusS, &input, &requestID, &createdAtS, &completedAtS, &exitStatus, &lastError); err != nil {
		return nil, err
	}

	e.Status = Status(statusS)
	if input.Valid {
		e.Input = json.RawMessage(input.String)
	}
	if requestID.Valid {
		e.RequestID = &requestID.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		e.CreatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			e.CompletedAt = &t
		}
	}
	if exitStatus.Valid {
		code := int(exitStatus.Int64)
		e.ExitStatus = &code
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan runner log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// truncateOutput caps the output carried by one journaled update.
func truncateOutput(u runner.Update) runner.Update {
	total := 0
	for i, c := range u.Output {
		total += len(c.Data)
		if total > maxPayloadBytes {
			out := make([]runner.Chunk, i+1)
			copy(out, u.Output[:i+1])
			keep := len(c.Data) - (total - maxPayloadBytes)
			out[i].Data = c.Data[:keep]
			u.Output = out
			return u
		}
	}
	return u
}
