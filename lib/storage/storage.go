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

// Package storage implements services.Services on PostgreSQL. One pool
// serves all domains; rows carry text uuids generated in Go so that the
// memory implementation and this one agree on identity semantics.
//
// Visibility filters (authz.RowFilter) are rendered into SQL here and
// evaluated in memory by RowFilter.Matches; the two renderings must
// stay equivalent.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/lib/services"
)

// Config configures the Postgres store.
type Config struct {
	// ConnString is a pgx pool connection string or URL.
	ConnString string
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// SkipMigrations leaves the schema untouched on startup.
	SkipMigrations bool
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing parameter ConnString")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store implements services.Services on a pgx pool.
type Store struct {
	cfg   Config
	pool  *pgxpool.Pool
	clock clockwork.Clock
	log   logrus.FieldLogger
}

// New connects to Postgres, applies pending migrations, and returns
// the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err, "parsing connection string")
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, trace.Wrap(err, "pinging database")
	}
	s := &Store{
		cfg:   cfg,
		pool:  pool,
		clock: cfg.Clock,
		log:   logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentStorage}),
	}
	if !cfg.SkipMigrations {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, trace.Wrap(err)
		}
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return trace.Wrap(s.pool.Ping(ctx))
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func newID() string { return uuid.NewString() }

// SQLSTATE classes translated by convertError.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
)

// convertError maps pgx errors onto the trace error taxonomy the
// domain services branch on. The partial unique index on results
// surfaces here as trace.AlreadyExists, same as every other conflict.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return trace.NotFound("not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return trace.AlreadyExists("already exists: %s", pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return trace.BadParameter("referenced row does not exist: %s", pgErr.ConstraintName)
		case codeNotNullViolation:
			return trace.BadParameter("missing required column %s", pgErr.ColumnName)
		case codeCheckViolation:
			return trace.BadParameter("constraint violated: %s", pgErr.ConstraintName)
		}
	}
	return trace.Wrap(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// jsonArg encodes a value for a jsonb parameter; nil maps stay NULL.
func jsonArg(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return string(data), nil
}

// jsonField decodes a scanned jsonb column; NULL yields a nil map.
func jsonField(data []byte, out *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return trace.Wrap(json.Unmarshal(data, out))
}

var _ services.Services = (*Store)(nil)
