package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const templateCols = `id, name, description, category, code, params_schema,
	required_credentials, suggested_schedule, is_builtin, created_at, updated_at`

// CreateTemplate inserts a new template. ID and timestamps are assigned
// here; param names must be unique within the schema.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if err := validateParamSchema(t.ParamsSchema); err != nil {
		return err
	}
	unlock := s.lockWriter()
	defer unlock()

	if t.ID == "" {
		t.ID = GenTemplateID()
	}
	now := Now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := s.ext.ExecContext(ctx, `INSERT INTO templates (`+templateCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Category, t.Code, t.ParamsSchema,
		t.RequiredCredentials, t.SuggestedSchedule, t.IsBuiltin, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	slog.Info("template created", "id", t.ID, "name", t.Name)
	return nil
}

// GetTemplate returns a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var t Template
	err := sqlx.GetContext(ctx, s.ext, &t, `SELECT `+templateCols+` FROM templates WHERE id = ?`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// ListTemplates returns all templates, optionally filtered by category.
func (s *Store) ListTemplates(ctx context.Context, category string) ([]Template, error) {
	var rows []Template
	var err error
	if category != "" {
		err = sqlx.SelectContext(ctx, s.ext, &rows,
			`SELECT `+templateCols+` FROM templates WHERE category = ? ORDER BY name`, category)
	} else {
		err = sqlx.SelectContext(ctx, s.ext, &rows,
			`SELECT `+templateCols+` FROM templates ORDER BY name`)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// UpdateTemplate replaces the mutable fields of a template. Built-in
// templates are immutable.
func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	if err := validateParamSchema(t.ParamsSchema); err != nil {
		return err
	}
	current, err := s.GetTemplate(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.IsBuiltin {
		return fmt.Errorf("%w: built-in template %q is immutable", ErrConflict, current.Name)
	}

	unlock := s.lockWriter()
	defer unlock()

	t.UpdatedAt = Now()
	res, err := s.ext.ExecContext(ctx, `UPDATE templates SET
		name = ?, description = ?, category = ?, code = ?, params_schema = ?,
		required_credentials = ?, suggested_schedule = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, t.Category, t.Code, t.ParamsSchema,
		t.RequiredCredentials, t.SuggestedSchedule, t.UpdatedAt, t.ID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Fails with ErrIntegrity while any task
// still references it.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	unlock := s.lockWriter()
	defer unlock()

	var inUse int
	if err := sqlx.GetContext(ctx, s.ext, &inUse, `SELECT COUNT(*) FROM tasks WHERE template_id = ?`, id); err != nil {
		return mapErr(err)
	}
	if inUse > 0 {
		return fmt.Errorf("%w: template referenced by %d task(s)", ErrIntegrity, inUse)
	}

	res, err := s.ext.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Info("template deleted", "id", id)
	return nil
}

// TemplateExists reports whether a template with the given id exists.
func (s *Store) TemplateExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n, `SELECT COUNT(*) FROM templates WHERE id = ?`, id); err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func validateParamSchema(defs ParamDefs) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("param name must not be empty")
		}
		switch d.Type {
		case "string", "number", "boolean":
		default:
			return fmt.Errorf("param %q has unknown type %q", d.Name, d.Type)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate param name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}
