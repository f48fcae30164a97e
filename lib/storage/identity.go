/*
Copyright 2025 Codebench, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/codebench/codebench/api/types"
)

const userColumns = "id, username, COALESCE(email, ''), given_name, family_name, password_hash, disabled, created_at, updated_at"

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.GivenName, &u.FamilyName,
		&u.PasswordHash, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *user
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	var email any
	if out.Email != "" {
		email = out.Email
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, username, email, given_name, family_name, password_hash, disabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, out.Username, email, out.GivenName, out.FamilyName,
		out.PasswordHash, out.Disabled, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("user %q already exists", out.Username)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("user %q not found", username)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *types.User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE users SET username = $2, email = $3, given_name = $4, family_name = $5,
	password_hash = $6, disabled = $7, updated_at = $8
WHERE id = $1`,
		user.ID, user.Username, email, user.GivenName, user.FamilyName,
		user.PasswordHash, user.Disabled, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("user %s not found", user.ID)
	}
	return nil
}

func (s *Store) GetUserRoles(ctx context.Context, userID string) (types.Roles, error) {
	rows, _ := s.pool.Query(ctx, "SELECT role FROM user_roles WHERE user_id = $1", userID)
	out := types.Roles{}
	var role string
	if _, err := pgx.ForEachRow(rows, []any{&role}, func() error {
		out = append(out, types.Role(role))
		return nil
	}); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) AddUserRole(ctx context.Context, userID string, role types.Role) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
ON CONFLICT (user_id, role) DO NOTHING`, userID, string(role))
	return convertError(err)
}

func (s *Store) GetRoleClaims(ctx context.Context, role types.Role) ([]types.RoleClaim, error) {
	rows, _ := s.pool.Query(ctx,
		"SELECT resource, action FROM role_claims WHERE role = $1", string(role))
	out := []types.RoleClaim{}
	var claim types.RoleClaim
	if _, err := pgx.ForEachRow(rows, []any{&claim.Resource, &claim.Action}, func() error {
		out = append(out, claim)
		return nil
	}); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) SetRoleClaims(ctx context.Context, role types.Role, claims []types.RoleClaim) error {
	return trace.Wrap(pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM role_claims WHERE role = $1", string(role)); err != nil {
			return convertError(err)
		}
		for _, c := range claims {
			if _, err := tx.Exec(ctx,
				"INSERT INTO role_claims (role, resource, action) VALUES ($1, $2, $3)",
				string(role), c.Resource, c.Action); err != nil {
				return convertError(err)
			}
		}
		return nil
	}))
}

func (s *Store) CreateAccount(ctx context.Context, account *types.Account) (*types.Account, error) {
	if err := account.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *account
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (id, user_id, provider, provider_url, provider_account_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		out.ID, out.UserID, out.Provider, out.ProviderURL, out.ProviderAccountID, out.CreatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("account binding already exists")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetAccount(ctx context.Context, provider, providerURL, providerAccountID string) (*types.Account, error) {
	var a types.Account
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, provider, provider_url, provider_account_id, created_at
FROM accounts WHERE provider = $1 AND provider_url = $2 AND provider_account_id = $3`,
		provider, providerURL, providerAccountID,
	).Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderURL, &a.ProviderAccountID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("account %s@%s not found", providerAccountID, provider)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &a, nil
}

func (s *Store) GetStudentProfile(ctx context.Context, userID string) (*types.StudentProfile, error) {
	var p types.StudentProfile
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, nickname, matriculation_number, university, created_at, updated_at
FROM student_profiles WHERE user_id = $1`, userID,
	).Scan(&p.ID, &p.UserID, &p.Nickname, &p.MatriculationNumber, &p.University, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("profile of user %s not found", userID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &p, nil
}

func (s *Store) UpsertStudentProfile(ctx context.Context, profile *types.StudentProfile) error {
	id := profile.ID
	if id == "" {
		id = newID()
	}
	now := s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO student_profiles (id, user_id, nickname, matriculation_number, university, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (user_id) DO UPDATE SET
	nickname = EXCLUDED.nickname,
	matriculation_number = EXCLUDED.matriculation_number,
	university = EXCLUDED.university,
	updated_at = EXCLUDED.updated_at`,
		id, profile.UserID, profile.Nickname, profile.MatriculationNumber, profile.University, now)
	return convertError(err)
}

const tokenColumns = "id, user_id, name, token_prefix, token_hash, scopes, COALESCE(expires_at, 'epoch'::timestamptz), revoked_at, created_at"

func scanToken(row pgx.Row) (*types.ApiToken, error) {
	var t types.ApiToken
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenPrefix, &t.TokenHash,
		&t.Scopes, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	// the epoch sentinel stands in for "no expiry"
	if t.ExpiresAt.Equal(time.Unix(0, 0).UTC()) {
		t.ExpiresAt = time.Time{}
	}
	return &t, nil
}

func (s *Store) CreateApiToken(ctx context.Context, token *types.ApiToken) (*types.ApiToken, error) {
	if err := token.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *token
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	var expires any
	if !out.ExpiresAt.IsZero() {
		expires = out.ExpiresAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO api_tokens (id, user_id, name, token_prefix, token_hash, scopes, expires_at, revoked_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, out.UserID, out.Name, out.TokenPrefix, out.TokenHash,
		out.Scopes, expires, out.RevokedAt, out.CreatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("api token already exists")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetApiTokenByHash(ctx context.Context, hash string) (*types.ApiToken, error) {
	t, err := scanToken(s.pool.QueryRow(ctx,
		"SELECT "+tokenColumns+" FROM api_tokens WHERE token_hash = $1", hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("api token not found")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return t, nil
}

func (s *Store) ListApiTokens(ctx context.Context, userID string) ([]types.ApiToken, error) {
	rows, _ := s.pool.Query(ctx,
		"SELECT "+tokenColumns+" FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC", userID)
	defer rows.Close()
	var out []types.ApiToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) RevokeApiToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE api_tokens SET revoked_at = $2 WHERE id = $1", id, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("api token %s not found", id)
	}
	return nil
}

const sessionColumns = "id, user_id, session_id_hash, refresh_token_hash, device_label, user_agent, ip, expires_at, refresh_expires_at, ended_at, created_at"

func scanSession(row pgx.Row) (*types.Session, error) {
	var sess types.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.SessionIDHash, &sess.RefreshTokenHash,
		&sess.DeviceLabel, &sess.UserAgent, &sess.IP,
		&sess.ExpiresAt, &sess.RefreshExpiresAt, &sess.EndedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	if err := session.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *session
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (id, user_id, session_id_hash, refresh_token_hash, device_label, user_agent, ip, expires_at, refresh_expires_at, ended_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		out.ID, out.UserID, out.SessionIDHash, out.RefreshTokenHash,
		out.DeviceLabel, out.UserAgent, out.IP,
		out.ExpiresAt, out.RefreshExpiresAt, out.EndedAt, out.CreatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("session already exists")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetSessionByRefreshHash(ctx context.Context, hash []byte) (*types.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE refresh_token_hash = $1", hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("session not found")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return sess, nil
}

func (s *Store) UpdateSessionAccess(ctx context.Context, id, sessionIDHash string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET session_id_hash = $2, expires_at = $3 WHERE id = $1",
		id, sessionIDHash, expiresAt)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("session %s not found", id)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET ended_at = $2 WHERE id = $1", id, endedAt)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("session %s not found", id)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]types.Session, error) {
	rows, _ := s.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = $1 ORDER BY created_at DESC", userID)
	defer rows.Close()
	var out []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}
