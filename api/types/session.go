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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// Session is one interactive login. Tokens themselves are never
// persisted, only their SHA-256 hashes; the access hash is replaced on
// every refresh while the refresh hash stays stable for the session's
// lifetime.
type Session struct {
	// ID is the unique identifier of the session.
	ID string `json:"id"`
	// UserID is the authenticated user.
	UserID string `json:"user_id"`
	// SessionIDHash is the hex SHA-256 of the current access token.
	SessionIDHash string `json:"session_id_hash"`
	// RefreshTokenHash is the binary SHA-256 of the refresh token.
	RefreshTokenHash []byte `json:"refresh_token_hash"`
	// DeviceLabel is a client-supplied device description.
	DeviceLabel string `json:"device_label,omitempty"`
	// UserAgent is the User-Agent header observed at login.
	UserAgent string `json:"user_agent,omitempty"`
	// IP is the remote address observed at login.
	IP string `json:"ip,omitempty"`
	// ExpiresAt bounds the current access token.
	ExpiresAt time.Time `json:"expires_at"`
	// RefreshExpiresAt bounds the whole session; refreshing past this
	// point is rejected.
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	// EndedAt is set on logout or revocation.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// CreatedAt is the login timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the session row.
func (s *Session) CheckAndSetDefaults() error {
	if s.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if s.SessionIDHash == "" {
		return trace.BadParameter("missing parameter SessionIDHash")
	}
	if len(s.RefreshTokenHash) == 0 {
		return trace.BadParameter("missing parameter RefreshTokenHash")
	}
	if s.RefreshExpiresAt.IsZero() {
		return trace.BadParameter("missing parameter RefreshExpiresAt")
	}
	return nil
}

// Alive returns true if the session has neither ended nor passed its
// refresh expiry.
func (s *Session) Alive(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.RefreshExpiresAt)
}

// ApiToken is a long-lived credential for service accounts. The token
// value is shown once at creation; only prefix and hash are stored.
type ApiToken struct {
	// ID is the unique identifier of the token.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"user_id"`
	// Name is a human-readable label, unique per user.
	Name string `json:"name"`
	// TokenPrefix is the first characters of the token, kept for
	// display and lookup hints.
	TokenPrefix string `json:"token_prefix"`
	// TokenHash is the hex SHA-256 of the full token.
	TokenHash string `json:"-"`
	// Scopes restricts the token to a set of "kind:action" pairs,
	// empty meaning the owner's full permissions.
	Scopes []string `json:"scopes,omitempty"`
	// ExpiresAt bounds the token lifetime; zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// RevokedAt is set when the token is revoked.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the token row.
func (t *ApiToken) CheckAndSetDefaults() error {
	if t.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if t.Name == "" {
		return trace.BadParameter("missing parameter Name")
	}
	if t.TokenHash == "" {
		return trace.BadParameter("missing parameter TokenHash")
	}
	return nil
}

// Valid returns true if the token is neither revoked nor expired.
func (t *ApiToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt) {
		return false
	}
	return true
}
