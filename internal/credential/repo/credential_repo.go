package repo

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/qnbridge/feelfit-bridge/internal/credential/entity"
)

// CredentialRepo provides data access for the feelfit_credentials
// table using sqlx.
type CredentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepo(db *sqlx.DB) *CredentialRepo { return &CredentialRepo{db: db} }

// EnsureTable creates the credentials table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *CredentialRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS feelfit_credentials (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  token TEXT,
  user_info JSONB NOT NULL DEFAULT '{}'::jsonb,
  selected_profiles JSONB NOT NULL DEFAULT '[]'::jsonb,
  api_password_hash TEXT,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_feelfit_credentials_email ON feelfit_credentials(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Get returns the most recently updated credential row, or
// sql.ErrNoRows when none exists yet.
func (r *CredentialRepo) Get(ctx context.Context) (*entity.Credential, error) {
	const q = `SELECT id, email, token, user_info, selected_profiles, api_password_hash, updated_at
		FROM feelfit_credentials ORDER BY updated_at DESC LIMIT 1`
	var c entity.Credential
	row := r.db.QueryRowxContext(ctx, q)
	if err := row.Scan(&c.ID, &c.Email, &c.Token, &c.UserInfoRaw, &c.SelectedProfilesRaw, &c.APIPasswordHash, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or refreshes the credential row for an email and
// returns its id.
func (r *CredentialRepo) Upsert(ctx context.Context, email string) (int64, error) {
	const q = `INSERT INTO feelfit_credentials (email) VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id`
	var id int64
	if err := r.db.QueryRowxContext(ctx, q, email).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SaveSession writes back a fresh token and primary user info after a
// successful login.
func (r *CredentialRepo) SaveSession(ctx context.Context, id int64, token string, userInfo map[string]any) error {
	raw, err := json.Marshal(userInfo)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	const q = `UPDATE feelfit_credentials SET token = $2, user_info = $3, updated_at = NOW() WHERE id = $1`
	_, err = r.db.ExecContext(ctx, q, id, token, raw)
	return err
}

// SaveAPIPasswordHash stores the bcrypt hash protecting the bridge's
// local HTTP API.
func (r *CredentialRepo) SaveAPIPasswordHash(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE feelfit_credentials SET api_password_hash = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, hash)
	return err
}

// SaveSelectedProfiles replaces the stored profile id selection.
func (r *CredentialRepo) SaveSelectedProfiles(ctx context.Context, id int64, profileIDs []string) error {
	raw, err := json.Marshal(profileIDs)
	if err != nil {
		return err
	}
	const q = `UPDATE feelfit_credentials SET selected_profiles = $2, updated_at = NOW() WHERE id = $1`
	_, err = r.db.ExecContext(ctx, q, id, raw)
	return err
}
