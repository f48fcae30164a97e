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

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/codebench/codebench/api/types"
)

const deploymentColumns = `id, course_content_id, example_version_id, example_identifier::text,
	version_tag, status, message, deployment_path, version_identifier, workflow_id,
	assigned_at, deployed_at, created_at, updated_at`

func scanDeployment(row pgx.Row) (*types.CourseContentDeployment, error) {
	var d types.CourseContentDeployment
	var identifier *string
	var status string
	err := row.Scan(&d.ID, &d.CourseContentID, &d.ExampleVersionID, &identifier,
		&d.VersionTag, &status, &d.Message, &d.DeploymentPath, &d.VersionIdentifier, &d.WorkflowID,
		&d.AssignedAt, &d.DeployedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if identifier != nil {
		d.ExampleIdentifier = types.Path(*identifier)
	}
	d.Status = types.DeploymentStatus(status)
	return &d, nil
}

// deployment identifiers are nullable ltree; an empty path stays NULL
func ltreeArg(p types.Path) any {
	if p == "" {
		return nil
	}
	return string(p)
}

func (s *Store) GetDeploymentByContent(ctx context.Context, courseContentID string) (*types.CourseContentDeployment, error) {
	d, err := scanDeployment(s.pool.QueryRow(ctx,
		"SELECT "+deploymentColumns+" FROM course_content_deployments WHERE course_content_id = $1",
		courseContentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("content %s has no deployment", courseContentID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return d, nil
}

func (s *Store) CreateDeployment(ctx context.Context, d *types.CourseContentDeployment) (*types.CourseContentDeployment, error) {
	if err := d.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *d
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	_, err := s.pool.Exec(ctx, `
INSERT INTO course_content_deployments (id, course_content_id, example_version_id, example_identifier,
	version_tag, status, message, deployment_path, version_identifier, workflow_id,
	assigned_at, deployed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4::ltree, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		out.ID, out.CourseContentID, out.ExampleVersionID, ltreeArg(out.ExampleIdentifier),
		out.VersionTag, string(out.Status), out.Message, out.DeploymentPath, out.VersionIdentifier,
		out.WorkflowID, out.AssignedAt, out.DeployedAt, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("content %s already has a deployment", out.CourseContentID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) UpdateDeployment(ctx context.Context, d *types.CourseContentDeployment) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE course_content_deployments SET example_version_id = $2, example_identifier = $3::ltree,
	version_tag = $4, status = $5, message = $6, deployment_path = $7, version_identifier = $8,
	workflow_id = $9, assigned_at = $10, deployed_at = $11, updated_at = $12
WHERE id = $1`,
		d.ID, d.ExampleVersionID, ltreeArg(d.ExampleIdentifier), d.VersionTag, string(d.Status),
		d.Message, d.DeploymentPath, d.VersionIdentifier, d.WorkflowID,
		d.AssignedAt, d.DeployedAt, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("deployment %s not found", d.ID)
	}
	return nil
}

func (s *Store) AppendDeploymentHistory(ctx context.Context, entry *types.DeploymentHistory) (*types.DeploymentHistory, error) {
	if err := entry.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *entry
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO deployment_history (id, deployment_id, action, actor_user_id,
	previous_example_version_id, new_example_version_id, version_tag, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, out.DeploymentID, string(out.Action), out.ActorUserID,
		out.PreviousExampleVersionID, out.NewExampleVersionID, out.VersionTag, out.Message, out.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) ListDeploymentHistory(ctx context.Context, deploymentID string) ([]types.DeploymentHistory, error) {
	rows, _ := s.pool.Query(ctx, `
SELECT id, deployment_id, action, actor_user_id, previous_example_version_id,
	new_example_version_id, version_tag, message, created_at
FROM deployment_history WHERE deployment_id = $1
ORDER BY created_at`, deploymentID)
	defer rows.Close()
	var out []types.DeploymentHistory
	for rows.Next() {
		var h types.DeploymentHistory
		var action string
		if err := rows.Scan(&h.ID, &h.DeploymentID, &action, &h.ActorUserID,
			&h.PreviousExampleVersionID, &h.NewExampleVersionID, &h.VersionTag, &h.Message, &h.CreatedAt); err != nil {
			return nil, convertError(err)
		}
		h.Action = types.DeploymentAction(action)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

const exampleColumns = "id, example_repository_id, identifier::text, title, properties, created_at, updated_at"

func scanExample(row pgx.Row) (*types.Example, error) {
	var e types.Example
	var identifier string
	var props []byte
	err := row.Scan(&e.ID, &e.ExampleRepositoryID, &identifier, &e.Title, &props, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Identifier = types.Path(identifier)
	if err := jsonField(props, &e.Properties); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateExample(ctx context.Context, example *types.Example) (*types.Example, error) {
	if err := example.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *example
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	props, err := jsonArg(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO examples (id, example_repository_id, identifier, title, properties, created_at, updated_at)
VALUES ($1, $2, $3::ltree, $4, $5::jsonb, $6, $7)`,
		out.ID, out.ExampleRepositoryID, string(out.Identifier), out.Title, props, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("example %q already exists", out.Identifier)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetExample(ctx context.Context, id string) (*types.Example, error) {
	e, err := scanExample(s.pool.QueryRow(ctx,
		"SELECT "+exampleColumns+" FROM examples WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("example %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return e, nil
}

func (s *Store) GetExampleByIdentifier(ctx context.Context, identifier types.Path) (*types.Example, error) {
	e, err := scanExample(s.pool.QueryRow(ctx,
		"SELECT "+exampleColumns+" FROM examples WHERE identifier = $1::ltree", string(identifier)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("example %q not found", identifier)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return e, nil
}

func (s *Store) CreateExampleVersion(ctx context.Context, version *types.ExampleVersion) (*types.ExampleVersion, error) {
	if err := version.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *version
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO example_versions (id, example_id, version_tag, version_identifier, storage_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		out.ID, out.ExampleID, out.VersionTag, out.VersionIdentifier, out.StorageKey, out.CreatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("version %q already exists for example", out.VersionTag)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

const versionColumns = "id, example_id, version_tag, version_identifier, storage_key, created_at"

func scanVersion(row pgx.Row) (*types.ExampleVersion, error) {
	var v types.ExampleVersion
	err := row.Scan(&v.ID, &v.ExampleID, &v.VersionTag, &v.VersionIdentifier, &v.StorageKey, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetExampleVersion(ctx context.Context, id string) (*types.ExampleVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		"SELECT "+versionColumns+" FROM example_versions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("example version %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return v, nil
}

func (s *Store) GetExampleVersionByTag(ctx context.Context, exampleID, versionTag string) (*types.ExampleVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		"SELECT "+versionColumns+" FROM example_versions WHERE example_id = $1 AND version_tag = $2",
		exampleID, versionTag))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("example %s has no version %q", exampleID, versionTag)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return v, nil
}

func (s *Store) ListExamplesByIdentifiers(ctx context.Context, identifiers []types.Path) (map[types.Path]types.Example, error) {
	paths := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		paths = append(paths, string(id))
	}
	rows, _ := s.pool.Query(ctx,
		"SELECT "+exampleColumns+" FROM examples WHERE identifier::text = ANY($1::text[])", paths)
	defer rows.Close()
	out := make(map[types.Path]types.Example)
	for rows.Next() {
		e, err := scanExample(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out[e.Identifier] = *e
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) ListExampleVersions(ctx context.Context, exampleID string) ([]types.ExampleVersion, error) {
	rows, _ := s.pool.Query(ctx, `
SELECT `+versionColumns+` FROM example_versions
WHERE example_id = $1
ORDER BY created_at DESC`, exampleID)
	defer rows.Close()
	var out []types.ExampleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}
