package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/tfreaper/internal/store"
)

const executionColumns = "id, project_id, command, working_dir, status, attempt, exit_code, stdout, stderr, started_at, completed_at, created_at"

func (s *Store) CreateExecution(ctx context.Context, e *store.Execution) error {
	now := time.Now().UTC()
	if e.Status == "" {
		e.Status = store.ExecutionQueued
	}
	if e.Attempt == 0 {
		e.Attempt = 1
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	e.CreatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO executions (`+executionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Command, e.WorkingDir, e.Status, e.Attempt,
		nullableInt(e.ExitCode), e.Stdout, e.Stderr,
		e.StartedAt, nullableTime(e.CompletedAt), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, id string, upd store.ExecutionUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.ExitCode != nil {
		sets = append(sets, "exit_code = ?")
		args = append(args, *upd.ExitCode)
	}
	if upd.Stdout != nil {
		sets = append(sets, "stdout = ?")
		args = append(args, *upd.Stdout)
	}
	if upd.Stderr != nil {
		sets = append(sets, "stderr = ?")
		args = append(args, *upd.Stderr)
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, upd.CompletedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE executions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListExecutionsByProject(ctx context.Context, projectID string) ([]*store.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+executionColumns+` FROM executions
WHERE project_id = ?
ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return scanExecutions(rows)
}

func (s *Store) ListRunningExecutions(ctx context.Context) ([]*store.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+executionColumns+` FROM executions
WHERE status IN (?, ?)
ORDER BY started_at ASC`, store.ExecutionQueued, store.ExecutionRunning)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	return scanExecutions(rows)
}

func (s *Store) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM executions
WHERE started_at < ? AND status NOT IN (?, ?)`,
		cutoff.UTC(), store.ExecutionQueued, store.ExecutionRunning)
	if err != nil {
		return 0, fmt.Errorf("purge executions: %w", err)
	}
	return res.RowsAffected()
}

func scanExecution(row rowScanner) (*store.Execution, error) {
	var (
		e         store.Execution
		exitCode  sql.NullInt64
		completed sql.NullTime
	)
	err := row.Scan(&e.ID, &e.ProjectID, &e.Command, &e.WorkingDir, &e.Status,
		&e.Attempt, &exitCode, &e.Stdout, &e.Stderr,
		&e.StartedAt, &completed, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func scanExecutions(rows *sql.Rows) ([]*store.Execution, error) {
	defer rows.Close()

	var out []*store.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
