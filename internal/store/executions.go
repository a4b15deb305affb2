package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const executionCols = `id, task_id, started_at, finished_at, status, output, error, duration_ms`

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	TaskID    *int64
	Status    string
	StartFrom *Time
	StartTo   *Time
	Limit     int
	Offset    int
}

// ExecutionUpdate closes or amends an execution row.
type ExecutionUpdate struct {
	Status     string
	FinishedAt *Time
	Output     *ExecutionOutput
	Error      string
	DurationMs *int64
}

// CreateExecution inserts a new execution row with status running.
func (s *Store) CreateExecution(ctx context.Context, taskID int64) (*Execution, error) {
	unlock := s.lockWriter()
	defer unlock()

	started := Now()
	res, err := s.ext.ExecContext(ctx,
		`INSERT INTO executions (task_id, started_at, status) VALUES (?, ?, ?)`,
		taskID, started, StatusRunning)
	if err != nil {
		return nil, mapErr(err)
	}
	id, _ := res.LastInsertId()
	return &Execution{ID: id, TaskID: taskID, StartedAt: started, Status: StatusRunning}, nil
}

// UpdateExecution applies a closing update to an execution row.
func (s *Store) UpdateExecution(ctx context.Context, id int64, u ExecutionUpdate) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx, `UPDATE executions SET
		status = ?, finished_at = ?, output = ?, error = ?, duration_ms = ?
		WHERE id = ?`,
		u.Status, u.FinishedAt, u.Output, u.Error, u.DurationMs, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution returns an execution by id.
func (s *Store) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	var e Execution
	if err := sqlx.GetContext(ctx, s.ext, &e,
		`SELECT `+executionCols+` FROM executions WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

// ListExecutions returns a page of executions plus the unpaged total.
func (s *Store) ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, int, error) {
	var conds []string
	var args []any

	if f.TaskID != nil {
		conds = append(conds, "task_id = ?")
		args = append(args, *f.TaskID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.StartFrom != nil {
		conds = append(conds, "started_at >= ?")
		args = append(args, *f.StartFrom)
	}
	if f.StartTo != nil {
		conds = append(conds, "started_at <= ?")
		args = append(args, *f.StartTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, s.ext, &total,
		`SELECT COUNT(*) FROM executions`+where, args...); err != nil {
		return nil, 0, mapErr(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	pagedArgs := append(append([]any{}, args...), limit, f.Offset)

	var rows []Execution
	if err := sqlx.SelectContext(ctx, s.ext, &rows,
		`SELECT `+executionCols+` FROM executions`+where+
			` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, pagedArgs...); err != nil {
		return nil, 0, mapErr(err)
	}
	return rows, total, nil
}

// DeleteExecutionsOlderThan removes executions started more than the given
// number of days ago. Returns the number of rows deleted.
func (s *Store) DeleteExecutionsOlderThan(ctx context.Context, days int) (int64, error) {
	unlock := s.lockWriter()
	defer unlock()

	cutoff := At(time.Now().AddDate(0, 0, -days))
	res, err := s.ext.ExecContext(ctx,
		`DELETE FROM executions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("old executions deleted", "days", days, "count", n)
	}
	return n, nil
}

// PendingExecutionCount returns the number of executions still running.
func (s *Store) PendingExecutionCount(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n,
		`SELECT COUNT(*) FROM executions WHERE status = 'running'`); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// RecentErrorCount returns the number of failed or timed-out executions
// started within the last given hours.
func (s *Store) RecentErrorCount(ctx context.Context, hours int) (int, error) {
	since := At(time.Now().Add(-time.Duration(hours) * time.Hour))
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n,
		`SELECT COUNT(*) FROM executions
		 WHERE status IN ('failed','timeout') AND started_at >= ?`, since); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// SweepOrphanExecutions closes executions left running by a previous
// process. Returns the number of rows swept.
func (s *Store) SweepOrphanExecutions(ctx context.Context, reason string) (int64, error) {
	unlock := s.lockWriter()
	defer unlock()

	now := Now()
	res, err := s.ext.ExecContext(ctx, `UPDATE executions SET
		status = 'failed', finished_at = ?, error = ?,
		duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE status = 'running'`, now, reason, now)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
