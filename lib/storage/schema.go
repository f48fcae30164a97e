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

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
)

// migrations are applied in order inside one transaction each; the
// schema_version table records the highest applied index. Append only,
// never edit an applied entry.
var migrations = []string{
	// 1: extensions and identity
	`
CREATE EXTENSION IF NOT EXISTS ltree;

CREATE TABLE users (
	id text PRIMARY KEY,
	username text NOT NULL UNIQUE,
	email text,
	given_name text NOT NULL DEFAULT '',
	family_name text NOT NULL DEFAULT '',
	password_hash bytea,
	disabled boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE user_roles (
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	role text NOT NULL,
	PRIMARY KEY (user_id, role)
);

CREATE TABLE role_claims (
	role text NOT NULL,
	resource text NOT NULL,
	action text NOT NULL,
	PRIMARY KEY (role, resource, action)
);

CREATE TABLE accounts (
	id text PRIMARY KEY,
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	provider text NOT NULL,
	provider_url text NOT NULL DEFAULT '',
	provider_account_id text NOT NULL,
	created_at timestamptz NOT NULL,
	UNIQUE (provider, provider_url, provider_account_id)
);

CREATE TABLE student_profiles (
	id text PRIMARY KEY,
	user_id text NOT NULL UNIQUE REFERENCES users (id) ON DELETE CASCADE,
	nickname text NOT NULL DEFAULT '',
	matriculation_number text NOT NULL DEFAULT '',
	university text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE api_tokens (
	id text PRIMARY KEY,
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	name text NOT NULL,
	token_prefix text NOT NULL DEFAULT '',
	token_hash text NOT NULL UNIQUE,
	scopes text[] NOT NULL DEFAULT '{}',
	expires_at timestamptz,
	revoked_at timestamptz,
	created_at timestamptz NOT NULL,
	UNIQUE (user_id, name)
);

CREATE TABLE sessions (
	id text PRIMARY KEY,
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	session_id_hash text NOT NULL UNIQUE,
	refresh_token_hash bytea NOT NULL,
	device_label text NOT NULL DEFAULT '',
	user_agent text NOT NULL DEFAULT '',
	ip text NOT NULL DEFAULT '',
	expires_at timestamptz NOT NULL,
	refresh_expires_at timestamptz NOT NULL,
	ended_at timestamptz,
	created_at timestamptz NOT NULL
);
CREATE INDEX sessions_refresh_hash_idx ON sessions (refresh_token_hash);
`,
	// 2: course hierarchy
	`
CREATE TABLE organizations (
	id text PRIMARY KEY,
	title text NOT NULL,
	path ltree NOT NULL UNIQUE,
	properties jsonb,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE course_families (
	id text PRIMARY KEY,
	organization_id text NOT NULL REFERENCES organizations (id),
	title text NOT NULL,
	path ltree NOT NULL UNIQUE,
	properties jsonb,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE courses (
	id text PRIMARY KEY,
	course_family_id text NOT NULL REFERENCES course_families (id),
	title text NOT NULL,
	path ltree NOT NULL UNIQUE,
	properties jsonb,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE course_content_types (
	id text PRIMARY KEY,
	course_id text NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	slug text NOT NULL,
	title text NOT NULL,
	kind text NOT NULL,
	color text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	UNIQUE (course_id, slug)
);

CREATE TABLE execution_backends (
	id text PRIMARY KEY,
	slug text NOT NULL UNIQUE,
	type text NOT NULL,
	properties jsonb,
	created_at timestamptz NOT NULL
);

CREATE TABLE course_contents (
	id text PRIMARY KEY,
	course_id text NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	course_content_type_id text NOT NULL REFERENCES course_content_types (id),
	title text NOT NULL,
	description text NOT NULL DEFAULT '',
	path ltree NOT NULL,
	position double precision NOT NULL DEFAULT 0,
	execution_backend_id text REFERENCES execution_backends (id),
	max_group_size integer NOT NULL DEFAULT 1,
	max_submissions integer,
	max_test_runs integer,
	properties jsonb,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	UNIQUE (course_id, path)
);
CREATE INDEX course_contents_path_idx ON course_contents USING gist (path);

CREATE TABLE course_members (
	id text PRIMARY KEY,
	course_id text NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	course_role text NOT NULL,
	course_group_id text,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	UNIQUE (course_id, user_id)
);
CREATE INDEX course_members_user_idx ON course_members (user_id);

CREATE TABLE course_groups (
	id text PRIMARY KEY,
	course_id text NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	title text NOT NULL,
	description text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
`,
	// 3: submissions and results
	`
CREATE TABLE submission_groups (
	id text PRIMARY KEY,
	course_id text NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	course_content_id text NOT NULL REFERENCES course_contents (id) ON DELETE CASCADE,
	max_group_size integer NOT NULL DEFAULT 1,
	max_submissions integer,
	max_test_runs integer,
	join_code text,
	requires_approval boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE INDEX submission_groups_content_idx ON submission_groups (course_content_id);

CREATE TABLE submission_group_members (
	id text PRIMARY KEY,
	submission_group_id text NOT NULL REFERENCES submission_groups (id) ON DELETE CASCADE,
	course_member_id text NOT NULL REFERENCES course_members (id) ON DELETE CASCADE,
	course_content_id text NOT NULL REFERENCES course_contents (id) ON DELETE CASCADE,
	created_at timestamptz NOT NULL,
	UNIQUE (course_member_id, course_content_id)
);
CREATE INDEX submission_group_members_group_idx ON submission_group_members (submission_group_id);

CREATE TABLE submission_artifacts (
	id text PRIMARY KEY,
	submission_group_id text NOT NULL REFERENCES submission_groups (id) ON DELETE CASCADE,
	uploader_course_member_id text NOT NULL DEFAULT '',
	bucket text NOT NULL,
	object_key text NOT NULL,
	filename text NOT NULL DEFAULT '',
	content_type text NOT NULL DEFAULT '',
	size bigint NOT NULL DEFAULT 0,
	version_identifier text NOT NULL,
	submit boolean NOT NULL DEFAULT false,
	properties jsonb,
	created_at timestamptz NOT NULL
);
CREATE INDEX submission_artifacts_group_idx ON submission_artifacts (submission_group_id);

CREATE TABLE submission_grades (
	id text PRIMARY KEY,
	submission_artifact_id text NOT NULL REFERENCES submission_artifacts (id) ON DELETE CASCADE,
	graded_by_course_member_id text NOT NULL REFERENCES course_members (id),
	grade double precision NOT NULL,
	status text NOT NULL,
	comment text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	CHECK (grade >= 0 AND grade <= 1)
);
CREATE INDEX submission_grades_artifact_idx ON submission_grades (submission_artifact_id);

CREATE TABLE results (
	id text PRIMARY KEY,
	submission_artifact_id text NOT NULL REFERENCES submission_artifacts (id) ON DELETE CASCADE,
	course_member_id text NOT NULL REFERENCES course_members (id),
	course_content_id text NOT NULL REFERENCES course_contents (id),
	course_content_type_id text NOT NULL DEFAULT '',
	execution_backend_id text NOT NULL DEFAULT '',
	test_system_id text NOT NULL,
	status integer NOT NULL,
	grade double precision,
	result_json jsonb,
	log_text text NOT NULL DEFAULT '',
	version_identifier text NOT NULL,
	reference_version_identifier text NOT NULL DEFAULT '',
	properties jsonb,
	created_at timestamptz NOT NULL,
	started_at timestamptz,
	finished_at timestamptz,
	updated_at timestamptz NOT NULL
);
CREATE INDEX results_artifact_idx ON results (submission_artifact_id);
CREATE INDEX results_member_content_idx ON results (course_member_id, course_content_id);
-- one live run per (member, content, version); failed, cancelled, and
-- crashed rows do not block a retry
CREATE UNIQUE INDEX results_active_version_uq
	ON results (course_member_id, course_content_id, version_identifier)
	WHERE status NOT IN (1, 2, 6);
`,
	// 4: deployments and examples
	`
CREATE TABLE examples (
	id text PRIMARY KEY,
	example_repository_id text NOT NULL,
	identifier ltree NOT NULL,
	title text NOT NULL DEFAULT '',
	properties jsonb,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	UNIQUE (example_repository_id, identifier)
);
CREATE INDEX examples_identifier_idx ON examples USING gist (identifier);

CREATE TABLE example_versions (
	id text PRIMARY KEY,
	example_id text NOT NULL REFERENCES examples (id) ON DELETE CASCADE,
	version_tag text NOT NULL,
	version_identifier text NOT NULL,
	storage_key text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL,
	UNIQUE (example_id, version_tag)
);

CREATE TABLE course_content_deployments (
	id text PRIMARY KEY,
	course_content_id text NOT NULL UNIQUE REFERENCES course_contents (id) ON DELETE CASCADE,
	example_version_id text REFERENCES example_versions (id),
	example_identifier ltree,
	version_tag text NOT NULL DEFAULT '',
	status text NOT NULL,
	message text NOT NULL DEFAULT '',
	deployment_path text,
	version_identifier text,
	workflow_id text,
	assigned_at timestamptz NOT NULL,
	deployed_at timestamptz,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);

CREATE TABLE deployment_history (
	id text PRIMARY KEY,
	deployment_id text NOT NULL REFERENCES course_content_deployments (id) ON DELETE CASCADE,
	action text NOT NULL,
	actor_user_id text NOT NULL DEFAULT '',
	previous_example_version_id text,
	new_example_version_id text,
	version_tag text NOT NULL DEFAULT '',
	message text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL
);
CREATE INDEX deployment_history_deployment_idx ON deployment_history (deployment_id);
`,
	// 5: messaging
	`
CREATE TABLE messages (
	id text PRIMARY KEY,
	author_user_id text NOT NULL REFERENCES users (id),
	parent_id text REFERENCES messages (id) ON DELETE CASCADE,
	title text NOT NULL DEFAULT '',
	content text NOT NULL,
	user_id text,
	course_member_id text,
	submission_group_id text,
	course_group_id text,
	course_content_id text,
	course_id text,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE INDEX messages_course_idx ON messages (course_id);
CREATE INDEX messages_group_idx ON messages (submission_group_id);

CREATE TABLE message_reads (
	message_id text NOT NULL REFERENCES messages (id) ON DELETE CASCADE,
	user_id text NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	read_at timestamptz NOT NULL,
	PRIMARY KEY (message_id, user_id)
);
`,
}

// migrate brings the schema up to date. Concurrent starters serialize
// on an advisory lock so only one applies each migration.
func (s *Store) migrate(ctx context.Context) error {
	return trace.Wrap(pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return trace.Wrap(err)
		}
		if _, err := tx.Exec(ctx,
			"CREATE TABLE IF NOT EXISTS schema_version (version integer NOT NULL)",
		); err != nil {
			return trace.Wrap(err)
		}
		var version int
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(max(version), 0) FROM schema_version",
		).Scan(&version); err != nil {
			return trace.Wrap(err)
		}
		if version > len(migrations) {
			return trace.BadParameter("database schema version %d is newer than this binary supports (%d)",
				version, len(migrations))
		}
		for i := version; i < len(migrations); i++ {
			if _, err := tx.Exec(ctx, migrations[i]); err != nil {
				return trace.Wrap(err, "applying migration %d", i+1)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_version (version) VALUES ($1)", i+1,
			); err != nil {
				return trace.Wrap(err)
			}
			s.log.WithField("version", i+1).Info("Applied schema migration.")
		}
		return nil
	}))
}

const migrationLockID = 0x636f646562656e63 // "codebenc"
