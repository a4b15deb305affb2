package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

const credentialCols = `id, name, type, description,
	encrypted_value IS NOT NULL AS has_value, created_at, last_used_at`

// CreateCredential inserts credential metadata without a value.
func (s *Store) CreateCredential(ctx context.Context, c *Credential) error {
	return s.createCredential(ctx, c, nil)
}

// CreateCredentialWithValue inserts metadata plus an already-encrypted blob.
func (s *Store) CreateCredentialWithValue(ctx context.Context, c *Credential, encrypted string) error {
	return s.createCredential(ctx, c, &encrypted)
}

func (s *Store) createCredential(ctx context.Context, c *Credential, encrypted *string) error {
	if !ValidCredentialName(c.Name) {
		return fmt.Errorf("invalid credential name %q: must match [A-Z0-9_]+", c.Name)
	}
	if c.Type == "" {
		c.Type = CredentialSecret
	}

	unlock := s.lockWriter()
	defer unlock()

	c.CreatedAt = Now()
	res, err := s.ext.ExecContext(ctx, `INSERT INTO credentials
		(name, type, description, encrypted_value, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.Type, c.Description, encrypted, c.CreatedAt)
	if err != nil {
		return mapErr(err)
	}
	c.ID, _ = res.LastInsertId()
	c.HasValue = encrypted != nil

	slog.Info("credential created", "name", c.Name, "type", c.Type, "hasValue", c.HasValue)
	return nil
}

// GetCredential returns credential metadata by id.
func (s *Store) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	var c Credential
	if err := sqlx.GetContext(ctx, s.ext, &c,
		`SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// GetCredentialByName returns credential metadata by name.
func (s *Store) GetCredentialByName(ctx context.Context, name string) (*Credential, error) {
	var c Credential
	if err := sqlx.GetContext(ctx, s.ext, &c,
		`SELECT `+credentialCols+` FROM credentials WHERE name = ?`, name); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListCredentials returns all credential metadata. Ciphertext is never
// selected; only the derived hasValue flag is exposed.
func (s *Store) ListCredentials(ctx context.Context) ([]Credential, error) {
	var rows []Credential
	if err := sqlx.SelectContext(ctx, s.ext, &rows,
		`SELECT `+credentialCols+` FROM credentials ORDER BY name`); err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// UpdateCredential updates type and description.
func (s *Store) UpdateCredential(ctx context.Context, id int64, credType, description string) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE credentials SET type = ?, description = ? WHERE id = ?`,
		credType, description, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Info("credential deleted", "id", id)
	return nil
}

// CredentialExists reports whether a credential with the given name exists.
func (s *Store) CredentialExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n,
		`SELECT COUNT(*) FROM credentials WHERE name = ?`, name); err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

// CredentialHasValue reports whether the named credential stores ciphertext.
func (s *Store) CredentialHasValue(ctx context.Context, name string) (bool, error) {
	var has bool
	err := sqlx.GetContext(ctx, s.ext, &has,
		`SELECT encrypted_value IS NOT NULL FROM credentials WHERE name = ?`, name)
	if err != nil {
		return false, mapErr(err)
	}
	return has, nil
}

// UpdateCredentialValue replaces the encrypted blob for a named credential.
func (s *Store) UpdateCredentialValue(ctx context.Context, name, encrypted string) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE credentials SET encrypted_value = ? WHERE name = ?`, encrypted, name)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCredentialValue drops the encrypted blob, keeping the metadata.
func (s *Store) ClearCredentialValue(ctx context.Context, name string) error {
	unlock := s.lockWriter()
	defer unlock()

	res, err := s.ext.ExecContext(ctx,
		`UPDATE credentials SET encrypted_value = NULL WHERE name = ?`, name)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchCredential stamps last_used_at after a successful decrypt.
func (s *Store) TouchCredential(ctx context.Context, name string) error {
	unlock := s.lockWriter()
	defer unlock()

	_, err := s.ext.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE name = ?`, Now(), name)
	return mapErr(err)
}

// EncryptedValues fetches ciphertext blobs for the given names in one call.
// Names without a stored value are absent from the result.
func (s *Store) EncryptedValues(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT name, encrypted_value FROM credentials
		 WHERE name IN (?) AND encrypted_value IS NOT NULL`, names)
	if err != nil {
		return nil, err
	}

	rows, err := s.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make(map[string]string, len(names))
	for rows.Next() {
		var name, blob string
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		out[name] = blob
	}
	return out, rows.Err()
}

// CredentialsInUse returns the union of credential names referenced by
// tasks and by the required sets of templates those tasks instantiate.
func (s *Store) CredentialsInUse(ctx context.Context) ([]string, error) {
	type row struct {
		TaskCreds     StringList `db:"credentials"`
		TemplateCreds StringList `db:"required_credentials"`
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, s.ext, &rows,
		`SELECT t.credentials AS credentials, tpl.required_credentials AS required_credentials
		 FROM tasks t JOIN templates tpl ON tpl.id = t.template_id`); err != nil {
		return nil, mapErr(err)
	}

	seen := map[string]bool{}
	var names []string
	add := func(list StringList) {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	for _, r := range rows {
		add(r.TaskCreds)
		add(r.TemplateCreds)
	}
	return names, nil
}
