package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const taskCols = `id, template_id, name, description, params, schedule_type,
	schedule_value, credentials, enabled, last_run_at, next_run_at, created_at, updated_at`

// TaskFilter narrows ListTasks. Nil pointers mean "any".
type TaskFilter struct {
	Enabled         *bool
	TemplateID      string
	HasErrorsLast24 bool
}

// TaskPatch carries a partial task update; nil fields are left untouched.
type TaskPatch struct {
	Name          *string
	Description   *string
	Params        *ParamValues
	ScheduleType  *string
	ScheduleValue *string
	Credentials   *StringList
	Enabled       *bool
}

// CreateTask inserts a new task. The template must exist (enforced by the
// foreign key) and the name must be unique.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	unlock := s.lockWriter()
	defer unlock()

	now := Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Params == nil {
		t.Params = ParamValues{}
	}
	if t.Credentials == nil {
		t.Credentials = StringList{}
	}

	res, err := s.ext.ExecContext(ctx, `INSERT INTO tasks
		(template_id, name, description, params, schedule_type, schedule_value,
		 credentials, enabled, last_run_at, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TemplateID, t.Name, t.Description, t.Params, t.ScheduleType, t.ScheduleValue,
		t.Credentials, t.Enabled, t.LastRunAt, t.NextRunAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	t.ID, _ = res.LastInsertId()

	slog.Info("task created", "id", t.ID, "name", t.Name, "schedule", t.ScheduleType)
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	var t Task
	if err := sqlx.GetContext(ctx, s.ext, &t, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// GetTaskByName returns a task by its unique name.
func (s *Store) GetTaskByName(ctx context.Context, name string) (*Task, error) {
	var t Task
	if err := sqlx.GetContext(ctx, s.ext, &t, `SELECT `+taskCols+` FROM tasks WHERE name = ?`, name); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// ListTasks returns tasks matching the filter, ordered by name.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var conds []string
	var args []any

	if f.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, *f.Enabled)
	}
	if f.TemplateID != "" {
		conds = append(conds, "template_id = ?")
		args = append(args, f.TemplateID)
	}
	if f.HasErrorsLast24 {
		conds = append(conds, `id IN (
			SELECT DISTINCT task_id FROM executions
			WHERE status IN ('failed','timeout') AND started_at >= ?)`)
		args = append(args, At(time.Now().Add(-24*time.Hour)))
	}

	query := `SELECT ` + taskCols + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name"

	var rows []Task
	if err := sqlx.SelectContext(ctx, s.ext, &rows, query, args...); err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// UpdateTask applies a partial update and bumps updated_at.
func (s *Store) UpdateTask(ctx context.Context, id int64, p TaskPatch) (*Task, error) {
	unlock := s.lockWriter()
	defer unlock()

	sets := []string{"updated_at = ?"}
	args := []any{Now()}

	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Params != nil {
		sets = append(sets, "params = ?")
		args = append(args, *p.Params)
	}
	if p.ScheduleType != nil {
		sets = append(sets, "schedule_type = ?")
		args = append(args, *p.ScheduleType)
	}
	if p.ScheduleValue != nil {
		sets = append(sets, "schedule_value = ?")
		args = append(args, *p.ScheduleValue)
	}
	if p.Credentials != nil {
		sets = append(sets, "credentials = ?")
		args = append(args, *p.Credentials)
	}
	if p.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *p.Enabled)
	}

	args = append(args, id)
	res, err := s.ext.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	var t Task
	if err := sqlx.GetContext(ctx, s.ext, &t, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// DeleteTask removes a task; its executions cascade.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Info("task deleted", "id", id)
	return nil
}

// ToggleTask flips the enabled flag and returns the new state.
func (s *Store) ToggleTask(ctx context.Context, id int64) (bool, error) {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE tasks SET enabled = NOT enabled, updated_at = ? WHERE id = ?`, Now(), id)
	if err != nil {
		return false, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	var enabled bool
	if err := sqlx.GetContext(ctx, s.ext, &enabled, `SELECT enabled FROM tasks WHERE id = ?`, id); err != nil {
		return false, mapErr(err)
	}
	return enabled, nil
}

// UpdateTaskRun stamps last_run_at and next_run_at in one write. A nil
// nextRunAt clears the column (one-shot tasks after firing).
func (s *Store) UpdateTaskRun(ctx context.Context, id int64, lastRunAt Time, nextRunAt *Time) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE tasks SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		lastRunAt, nextRunAt, Now(), id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskNextRun updates only next_run_at, used when (re)registering a
// task with the scheduler.
func (s *Store) SetTaskNextRun(ctx context.Context, id int64, nextRunAt *Time) error {
	unlock := s.lockWriter()
	defer unlock()

	_, err := s.ext.ExecContext(ctx,
		`UPDATE tasks SET next_run_at = ?, updated_at = ? WHERE id = ?`, nextRunAt, Now(), id)
	return mapErr(err)
}

// StampTaskLastRun updates only last_run_at, leaving next_run_at to the
// scheduler.
func (s *Store) StampTaskLastRun(ctx context.Context, id int64, lastRunAt Time) error {
	unlock := s.lockWriter()
	defer unlock()

	_, err := s.ext.ExecContext(ctx,
		`UPDATE tasks SET last_run_at = ?, updated_at = ? WHERE id = ?`, lastRunAt, Now(), id)
	return mapErr(err)
}

// DisableTask clears enabled and next_run_at (one-shot tasks after firing).
func (s *Store) DisableTask(ctx context.Context, id int64) error {
	unlock := s.lockWriter()
	defer unlock()

	_, err := s.ext.ExecContext(ctx,
		`UPDATE tasks SET enabled = 0, next_run_at = NULL, updated_at = ? WHERE id = ?`, Now(), id)
	return mapErr(err)
}

// DueTasks returns enabled tasks whose next_run_at is at or before now.
// When excludeCron is set, cron tasks are skipped (they own their cadence).
func (s *Store) DueTasks(ctx context.Context, now Time, excludeCron bool) ([]Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`
	if excludeCron {
		query += ` AND schedule_type != 'cron'`
	}
	query += ` ORDER BY next_run_at`

	var rows []Task
	if err := sqlx.SelectContext(ctx, s.ext, &rows, query, now); err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// CountTasks returns (total, enabled) task counts.
func (s *Store) CountTasks(ctx context.Context) (total, enabled int, err error) {
	if err = sqlx.GetContext(ctx, s.ext, &total, `SELECT COUNT(*) FROM tasks`); err != nil {
		return 0, 0, mapErr(err)
	}
	if err = sqlx.GetContext(ctx, s.ext, &enabled, `SELECT COUNT(*) FROM tasks WHERE enabled = 1`); err != nil {
		return 0, 0, mapErr(err)
	}
	return total, enabled, nil
}
