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

// Package session manages interactive login sessions. The fast path
// lives in Redis: the hex SHA-256 of the current access token maps to
// a small session record with the access TTL, so token resolution is
// one GET. Postgres keeps the authoritative session rows for audit and
// revocation. Refresh tokens are reused for the lifetime of a session,
// only the access token is replaced on refresh.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/utils"
)

const (
	sessionKeyPrefix = "session:"
	refreshKeyPrefix = "refresh:"
)

// Config configures the session store.
type Config struct {
	// Redis backs the fast token lookup path.
	Redis redis.UniversalClient
	// Identity persists the authoritative session rows.
	Identity services.Identity
	// AccessTokenTTL bounds access tokens.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL bounds whole sessions.
	RefreshTokenTTL time.Duration
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Redis == nil {
		return trace.BadParameter("missing parameter Redis")
	}
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store issues, resolves, refreshes and revokes sessions.
type Store struct {
	cfg Config
	log logrus.FieldLogger
}

// NewStore returns a session store.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentSession}),
	}, nil
}

// record is the Redis-side session snapshot keyed by the access token
// hash. RefreshHashHex lets logout drop the refresh key without a
// round trip to Postgres.
type record struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	RefreshHashHex string    `json:"refresh_hash_hex"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Metadata captures client attributes observed at login.
type Metadata struct {
	// DeviceLabel is a client-supplied device description.
	DeviceLabel string
	// UserAgent is the User-Agent header.
	UserAgent string
	// IP is the remote address.
	IP string
}

// Tokens is the credential pair handed to the client. Raw token values
// exist only here; everything stored is a hash.
type Tokens struct {
	// AccessToken authenticates requests until ExpiresAt.
	AccessToken string
	// RefreshToken mints new access tokens until the session ends.
	RefreshToken string
	// Session is the persisted row.
	Session *types.Session
}

// StartSession mints a fresh access/refresh pair for the user and
// persists the session.
func (s *Store) StartSession(ctx context.Context, user *types.User, meta Metadata) (*Tokens, error) {
	if user.Disabled {
		return nil, errcode.New(errcode.AuthUserDisabled)
	}
	access, err := utils.CryptoRandomHex(defaults.TokenLenBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	refresh, err := utils.CryptoRandomHex(defaults.TokenLenBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now().UTC()
	sess := &types.Session{
		UserID:           user.ID,
		SessionIDHash:    utils.SHA256Hex(access),
		RefreshTokenHash: utils.SHA256Bytes(refresh),
		DeviceLabel:      meta.DeviceLabel,
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		ExpiresAt:        now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        now,
	}
	created, err := s.cfg.Identity.CreateSession(ctx, sess)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.writeAccessKey(ctx, created, created.SessionIDHash); err != nil {
		return nil, trace.Wrap(err)
	}
	refreshKey := refreshKeyPrefix + utils.SHA256Hex(refresh)
	if err := s.cfg.Redis.Set(ctx, refreshKey, created.ID, s.cfg.RefreshTokenTTL).Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "storing refresh key")
	}
	s.log.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"session_id": created.ID,
	}).Info("Started session.")
	return &Tokens{AccessToken: access, RefreshToken: refresh, Session: created}, nil
}

func (s *Store) writeAccessKey(ctx context.Context, sess *types.Session, accessHash string) error {
	rec := record{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		RefreshHashHex: hex.EncodeToString(sess.RefreshTokenHash),
		ExpiresAt:      sess.ExpiresAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return trace.Wrap(err)
	}
	ttl := sess.ExpiresAt.Sub(s.cfg.Clock.Now())
	if ttl <= 0 {
		return trace.BadParameter("session already expired")
	}
	if err := s.cfg.Redis.Set(ctx, sessionKeyPrefix+accessHash, data, ttl).Err(); err != nil {
		return trace.ConnectionProblem(err, "storing session key")
	}
	return nil
}

// Active identifies the authenticated user behind an access token.
type Active struct {
	// SessionID is the owning session row.
	SessionID string
	// UserID is the authenticated user.
	UserID string
}

// Resolve maps a raw access token onto its session. Unknown and
// expired tokens are indistinguishable because the Redis key carries
// the TTL.
func (s *Store) Resolve(ctx context.Context, accessToken string) (*Active, error) {
	data, err := s.cfg.Redis.Get(ctx, sessionKeyPrefix+utils.SHA256Hex(accessToken)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errcode.New(errcode.AuthTokenExpired)
		}
		return nil, trace.ConnectionProblem(err, "reading session key")
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Active{SessionID: rec.SessionID, UserID: rec.UserID}, nil
}

// Refresh replaces the access token of a live session. The refresh
// token must still hold its Redis key, so logout and revocation cut
// refreshes off immediately; the stored hash in Postgres stays the
// authority on which session it belongs to.
func (s *Store) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	refreshKey := refreshKeyPrefix + utils.SHA256Hex(refreshToken)
	if err := s.cfg.Redis.Get(ctx, refreshKey).Err(); err != nil {
		if err == redis.Nil {
			return nil, errcode.New(errcode.AuthUnknownToken)
		}
		return nil, trace.ConnectionProblem(err, "reading refresh key")
	}
	sess, err := s.cfg.Identity.GetSessionByRefreshHash(ctx, utils.SHA256Bytes(refreshToken))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, errcode.New(errcode.AuthUnknownToken)
		}
		return nil, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now().UTC()
	if !sess.Alive(now) {
		return nil, errcode.New(errcode.AuthRefreshExpired)
	}

	access, err := utils.CryptoRandomHex(defaults.TokenLenBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	oldHash := sess.SessionIDHash
	sess.SessionIDHash = utils.SHA256Hex(access)
	sess.ExpiresAt = now.Add(s.cfg.AccessTokenTTL)
	if err := s.cfg.Identity.UpdateSessionAccess(ctx, sess.ID, sess.SessionIDHash, sess.ExpiresAt); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.writeAccessKey(ctx, sess, sess.SessionIDHash); err != nil {
		return nil, trace.Wrap(err)
	}
	// drop the superseded access key so at most one token is live
	if err := s.cfg.Redis.Del(ctx, sessionKeyPrefix+oldHash).Err(); err != nil {
		s.log.WithError(err).Warn("Failed to drop superseded session key.")
	}
	return &Tokens{AccessToken: access, RefreshToken: refreshToken, Session: sess}, nil
}

// EndSession logs out the session behind an access token, dropping
// both Redis keys and closing the row.
func (s *Store) EndSession(ctx context.Context, accessToken string) error {
	accessKey := sessionKeyPrefix + utils.SHA256Hex(accessToken)
	data, err := s.cfg.Redis.Get(ctx, accessKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errcode.New(errcode.AuthTokenExpired)
		}
		return trace.ConnectionProblem(err, "reading session key")
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Redis.Del(ctx, accessKey, refreshKeyPrefix+rec.RefreshHashHex).Err(); err != nil {
		return trace.ConnectionProblem(err, "dropping session keys")
	}
	if err := s.cfg.Identity.EndSession(ctx, rec.SessionID, s.cfg.Clock.Now().UTC()); err != nil {
		return trace.Wrap(err)
	}
	s.log.WithField("session_id", rec.SessionID).Info("Ended session.")
	return nil
}

// RevokeUserSessions force-ends every live session of a user, used
// when an account is disabled or its password changes.
func (s *Store) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := s.cfg.Identity.ListSessions(ctx, userID)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	now := s.cfg.Clock.Now().UTC()
	revoked := 0
	for _, sess := range sessions {
		if !sess.Alive(now) {
			continue
		}
		keys := []string{
			sessionKeyPrefix + sess.SessionIDHash,
			refreshKeyPrefix + hex.EncodeToString(sess.RefreshTokenHash),
		}
		if err := s.cfg.Redis.Del(ctx, keys...).Err(); err != nil {
			return revoked, trace.ConnectionProblem(err, "dropping session keys")
		}
		if err := s.cfg.Identity.EndSession(ctx, sess.ID, now); err != nil {
			return revoked, trace.Wrap(err)
		}
		revoked++
	}
	if revoked > 0 {
		s.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"sessions": revoked,
		}).Info("Revoked user sessions.")
	}
	return revoked, nil
}
