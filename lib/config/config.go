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

// Package config resolves the process configuration from environment
// variables. Every knob has a default; the environment only overrides.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/utils"
)

// PostgresConfig locates the relational store.
type PostgresConfig struct {
	// Host is the server address.
	Host string
	// Port is the server port.
	Port int
	// User authenticates the pool.
	User string
	// Password authenticates the pool.
	Password string
	// Database is the database name.
	Database string
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *PostgresConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		return trace.BadParameter("missing parameter User")
	}
	if c.Database == "" {
		return trace.BadParameter("missing parameter Database")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.DatabaseConnectTimeout
	}
	return nil
}

// DSN renders the pool connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.User, c.Password,
		net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		c.Database)
}

// RedisConfig locates the redis instance backing sessions, the async
// cache, presence, and pub/sub.
type RedisConfig struct {
	// Host is the server address.
	Host string
	// Port is the server port.
	Port int
	// Password authenticates the client when set.
	Password string
	// DB selects the logical database.
	DB int
	// IOTimeout bounds each round trip.
	IOTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *RedisConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.DB < 0 {
		return trace.BadParameter("DB cannot be negative")
	}
	if c.IOTimeout == 0 {
		c.IOTimeout = defaults.DefaultIOTimeout
	}
	return nil
}

// Addr returns host:port.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BlobConfig locates S3-compatible object storage (MinIO in the
// reference deployment).
type BlobConfig struct {
	// Endpoint is the storage address, host:port.
	Endpoint string
	// AccessKey authenticates the client.
	AccessKey string
	// SecretKey authenticates the client.
	SecretKey string
	// Secure toggles TLS towards the endpoint.
	Secure bool
	// LocalDir spools uploads on disk when set, for development
	// without object storage.
	LocalDir string
}

// CheckAndSetDefaults validates the config.
func (c *BlobConfig) CheckAndSetDefaults() error {
	if c.Endpoint == "" && c.LocalDir == "" {
		return trace.BadParameter("either Endpoint or LocalDir must be set")
	}
	if c.Endpoint != "" {
		if c.AccessKey == "" {
			return trace.BadParameter("missing parameter AccessKey")
		}
		if c.SecretKey == "" {
			return trace.BadParameter("missing parameter SecretKey")
		}
	}
	return nil
}

// URL renders the endpoint with the scheme implied by Secure.
func (c *BlobConfig) URL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return scheme + "://" + c.Endpoint
}

// TemporalConfig locates the workflow engine.
type TemporalConfig struct {
	// Host is the frontend address.
	Host string
	// Port is the frontend port.
	Port int
	// Namespace scopes all workflows.
	Namespace string
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *TemporalConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 7233
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	return nil
}

// HostPort returns host:port.
func (c *TemporalConfig) HostPort() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthConfig tunes credential handling.
type AuthConfig struct {
	// AccessTokenTTL bounds access tokens.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL bounds sessions.
	RefreshTokenTTL time.Duration
	// PrincipalCacheTTL bounds cached principals.
	PrincipalCacheTTL time.Duration
	// AdminUser is bootstrapped with the admin role on startup.
	AdminUser string
	// AdminPassword seeds the bootstrap user's password.
	AdminPassword string
	// ProviderJWTSecret verifies provider-signed login tokens;
	// provider login is disabled when empty.
	ProviderJWTSecret string
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *AuthConfig) CheckAndSetDefaults() error {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if c.PrincipalCacheTTL == 0 {
		c.PrincipalCacheTTL = defaults.AuthCacheTTL
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return trace.BadParameter("RefreshTokenTTL cannot be below AccessTokenTTL")
	}
	return nil
}

// WebConfig tunes the HTTP and websocket surface.
type WebConfig struct {
	// ListenAddr is the bind address, host:port.
	ListenAddr string
	// WSMaxTotalConnections caps sockets per instance.
	WSMaxTotalConnections int
	// WSMaxConnectionsPerUser caps sockets per user.
	WSMaxConnectionsPerUser int
	// WSPresenceTTL bounds presence keys.
	WSPresenceTTL time.Duration
	// WSSendTimeout bounds one websocket send.
	WSSendTimeout time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *WebConfig) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort(defaults.BindIP, strconv.Itoa(defaults.HTTPListenPort))
	}
	if c.WSMaxTotalConnections == 0 {
		c.WSMaxTotalConnections = defaults.WSMaxTotalConnections
	}
	if c.WSMaxConnectionsPerUser == 0 {
		c.WSMaxConnectionsPerUser = defaults.WSMaxConnectionsPerUser
	}
	if c.WSPresenceTTL == 0 {
		c.WSPresenceTTL = defaults.WSPresenceTTL
	}
	if c.WSSendTimeout == 0 {
		c.WSSendTimeout = defaults.WSSendTimeout
	}
	if c.WSMaxTotalConnections < c.WSMaxConnectionsPerUser {
		return trace.BadParameter("WSMaxTotalConnections cannot be below WSMaxConnectionsPerUser")
	}
	return nil
}

// Config is the full process configuration.
type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig
	Blob     BlobConfig
	Temporal TemporalConfig
	Auth     AuthConfig
	Web      WebConfig
	// Debug enables verbose logging.
	Debug bool
}

// CheckAndSetDefaults validates all sections.
func (c *Config) CheckAndSetDefaults() error {
	if err := c.Postgres.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Redis.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Blob.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Temporal.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Auth.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Web.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}

	cfg.Postgres.Host = utils.GetEnv(defaults.PostgresHostEnv, "")
	cfg.Postgres.User = utils.GetEnv(defaults.PostgresUserEnv, "codebench")
	cfg.Postgres.Password = utils.GetEnv(defaults.PostgresPasswordEnv, "")
	cfg.Postgres.Database = utils.GetEnv(defaults.PostgresDBEnv, "codebench")
	port, err := utils.GetEnvInt(defaults.PostgresPortEnv, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg.Postgres.Port = port

	cfg.Redis.Host = utils.GetEnv(defaults.RedisHostEnv, "")
	cfg.Redis.Password = utils.GetEnv(defaults.RedisPasswordEnv, "")
	if cfg.Redis.Port, err = utils.GetEnvInt(defaults.RedisPortEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Redis.DB, err = utils.GetEnvInt(defaults.RedisDBEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}

	cfg.Blob.Endpoint = utils.GetEnv(defaults.MinioEndpointEnv, "")
	cfg.Blob.AccessKey = utils.GetEnv(defaults.MinioAccessKeyEnv, "")
	cfg.Blob.SecretKey = utils.GetEnv(defaults.MinioSecretKeyEnv, "")
	cfg.Blob.LocalDir = utils.GetEnv(defaults.ApiLocalStorageDirEnv, "")
	if cfg.Blob.Secure, err = utils.GetEnvBool(defaults.MinioSecureEnv, false); err != nil {
		return nil, trace.Wrap(err)
	}

	cfg.Temporal.Host = utils.GetEnv(defaults.TemporalHostEnv, "")
	cfg.Temporal.Namespace = utils.GetEnv(defaults.TemporalNamespaceEnv, "")
	if cfg.Temporal.Port, err = utils.GetEnvInt(defaults.TemporalPortEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}

	cfg.Auth.AdminUser = utils.GetEnv(defaults.ApiAdminUserEnv, "")
	cfg.Auth.AdminPassword = utils.GetEnv(defaults.ApiAdminPasswordEnv, "")
	cfg.Auth.ProviderJWTSecret = utils.GetEnv(defaults.AuthProviderJWTSecretEnv, "")
	if cfg.Auth.PrincipalCacheTTL, err = utils.GetEnvDuration(defaults.AuthCacheTTLEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}

	cfg.Web.ListenAddr = utils.GetEnv(defaults.HTTPListenAddrEnv, "")
	if cfg.Web.WSMaxTotalConnections, err = utils.GetEnvInt(defaults.WSMaxTotalConnectionsEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Web.WSMaxConnectionsPerUser, err = utils.GetEnvInt(defaults.WSMaxConnectionsPerUserEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Web.WSPresenceTTL, err = utils.GetEnvDuration(defaults.WSPresenceTTLEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Web.WSSendTimeout, err = utils.GetEnvDuration(defaults.WSSendTimeoutEnv, 0); err != nil {
		return nil, trace.Wrap(err)
	}

	if cfg.Debug, err = utils.GetEnvBool(codebench.DebugEnvVar, false); err != nil {
		return nil, trace.Wrap(err)
	}

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}
