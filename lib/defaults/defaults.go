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

// Package defaults contains default constants set in various parts of
// the codebench codebase
package defaults

import "time"

const (
	// HTTPListenPort is the default API listening port.
	HTTPListenPort = 8000

	// BindIP is the default listen address.
	BindIP = "0.0.0.0"

	// AccessTokenTTL bounds the short-lived bearer token.
	AccessTokenTTL = 30 * time.Minute

	// RefreshTokenTTL bounds the whole login session.
	RefreshTokenTTL = 14 * 24 * time.Hour

	// AuthCacheTTL is how long built principals are reused before
	// claims are recomputed. Kept short so revocations converge fast.
	AuthCacheTTL = 10 * time.Second

	// AuthCacheSize caps the number of cached principals.
	AuthCacheSize = 4096

	// TokenLenBytes is the byte length of access and refresh tokens
	// before hex encoding.
	TokenLenBytes = 32

	// ApiTokenPrefixLen is how many characters of an API token are
	// kept in clear for display and lookup hints.
	ApiTokenPrefixLen = 8

	// ViewCacheTTL bounds aggregated view entries between
	// invalidations.
	ViewCacheTTL = 5 * time.Minute

	// ViewCacheSize caps the number of in-process view entries.
	ViewCacheSize = 16384

	// MaxUploadSize caps the total uncompressed size of one
	// submission archive.
	MaxUploadSize = 64 * 1024 * 1024 // 64 MiB

	// MaxUploadFiles caps the number of files inside one archive.
	MaxUploadFiles = 2048

	// WSMaxTotalConnections caps websocket connections per instance.
	WSMaxTotalConnections = 10000

	// WSMaxConnectionsPerUser caps concurrent sockets of one user.
	WSMaxConnectionsPerUser = 8

	// WSPresenceTTL is how long a presence key outlives its last
	// refresh.
	WSPresenceTTL = 60 * time.Second

	// WSSendTimeout bounds a single websocket send.
	WSSendTimeout = 5 * time.Second

	// WSPingInterval is the keepalive ping period; it must stay well
	// below the read deadline.
	WSPingInterval = 30 * time.Second

	// DatabaseConnectTimeout bounds the initial pool dial.
	DatabaseConnectTimeout = 10 * time.Second

	// DefaultIOTimeout bounds redis and blob storage round trips.
	DefaultIOTimeout = 10 * time.Second

	// WorkflowStartTimeout bounds a workflow submission call.
	WorkflowStartTimeout = 30 * time.Second

	// TestWorkflowQueue is the default task queue for student test
	// workflows.
	TestWorkflowQueue = "student-testing"

	// DeployWorkflowQueue is the task queue for example release
	// workflows.
	DeployWorkflowQueue = "example-deploy"

	// ResultsBucket is the bucket holding test run artifacts keyed by
	// result id.
	ResultsBucket = "results"

	// ExamplesBucket is the bucket holding deployable example
	// archives.
	ExamplesBucket = "examples"

	// GracefulShutdownTimeout is how long the process waits for
	// connections to drain before closing them.
	GracefulShutdownTimeout = 30 * time.Second
)

// Environment variable names recognized by the server. Names are part
// of the deployment contract; never rename.
const (
	// PostgresHostEnv et al. configure the relational store.
	PostgresHostEnv     = "POSTGRES_HOST"
	PostgresPortEnv     = "POSTGRES_PORT"
	PostgresUserEnv     = "POSTGRES_USER"
	PostgresPasswordEnv = "POSTGRES_PASSWORD"
	PostgresDBEnv       = "POSTGRES_DB"

	// RedisHostEnv et al. configure the redis instance used for
	// sessions, the async cache, presence, and pub/sub.
	RedisHostEnv     = "REDIS_HOST"
	RedisPortEnv     = "REDIS_PORT"
	RedisPasswordEnv = "REDIS_PASSWORD"
	RedisDBEnv       = "REDIS_DB"

	// MinioEndpointEnv et al. configure S3-compatible blob storage.
	MinioEndpointEnv  = "MINIO_ENDPOINT"
	MinioAccessKeyEnv = "MINIO_ACCESS_KEY"
	MinioSecretKeyEnv = "MINIO_SECRET_KEY"
	MinioSecureEnv    = "MINIO_SECURE"

	// TemporalHostEnv et al. configure the workflow engine client.
	TemporalHostEnv      = "TEMPORAL_HOST"
	TemporalPortEnv      = "TEMPORAL_PORT"
	TemporalNamespaceEnv = "TEMPORAL_NAMESPACE"

	// ApiAdminUserEnv names the user bootstrapped with the admin role
	// on startup.
	ApiAdminUserEnv     = "API_ADMIN_USER"
	ApiAdminPasswordEnv = "API_ADMIN_PASSWORD"

	// ApiLocalStorageDirEnv points uploads at a local spool directory
	// used when blob storage is unreachable in development.
	ApiLocalStorageDirEnv = "API_LOCAL_STORAGE_DIR"

	// WSMaxTotalConnectionsEnv et al. tune the websocket fan-out.
	WSMaxTotalConnectionsEnv   = "WS_MAX_TOTAL_CONNECTIONS"
	WSMaxConnectionsPerUserEnv = "WS_MAX_CONNECTIONS_PER_USER"
	WSPresenceTTLEnv           = "WS_PRESENCE_TTL"
	WSSendTimeoutEnv           = "WS_SEND_TIMEOUT"

	// AuthCacheTTLEnv overrides the principal cache TTL.
	AuthCacheTTLEnv = "AUTH_CACHE_TTL"

	// AuthProviderJWTSecretEnv holds the shared secret verifying
	// provider-signed login tokens; provider login is disabled when
	// unset.
	AuthProviderJWTSecretEnv = "AUTH_PROVIDER_JWT_SECRET"

	// HTTPListenAddrEnv overrides the API listen address.
	HTTPListenAddrEnv = "API_LISTEN_ADDR"
)
