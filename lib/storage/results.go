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
	"encoding/json"
	"errors"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// rawJSONArg passes a pre-encoded report to a jsonb parameter.
func rawJSONArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

const resultColumns = `id, submission_artifact_id, course_member_id, course_content_id,
	course_content_type_id, execution_backend_id, test_system_id, status, grade, result_json,
	log_text, version_identifier, reference_version_identifier, properties,
	created_at, started_at, finished_at, updated_at`

func scanResult(row pgx.Row) (*types.Result, error) {
	var r types.Result
	var status int
	var report []byte
	var props []byte
	err := row.Scan(&r.ID, &r.SubmissionArtifactID, &r.CourseMemberID, &r.CourseContentID,
		&r.CourseContentTypeID, &r.ExecutionBackendID, &r.TestSystemID, &status, &r.Grade, &report,
		&r.LogText, &r.VersionIdentifier, &r.ReferenceVersionIdentifier, &props,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = types.ResultStatus(status)
	if len(report) > 0 {
		r.ResultJSON = json.RawMessage(report)
	}
	if err := jsonField(props, &r.Properties); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateResult(ctx context.Context, result *types.Result) (*types.Result, error) {
	if err := result.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *result
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
INSERT INTO results (id, submission_artifact_id, course_member_id, course_content_id,
	course_content_type_id, execution_backend_id, test_system_id, status, grade, result_json,
	log_text, version_identifier, reference_version_identifier, properties,
	created_at, started_at, finished_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14::jsonb, $15, $16, $17, $18)`,
		out.ID, out.SubmissionArtifactID, out.CourseMemberID, out.CourseContentID,
		out.CourseContentTypeID, out.ExecutionBackendID, out.TestSystemID, int(out.Status),
		out.Grade, rawJSONArg(out.ResultJSON), out.LogText, out.VersionIdentifier,
		out.ReferenceVersionIdentifier, props, out.CreatedAt, out.StartedAt, out.FinishedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("an active result for this version already exists")
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetResult(ctx context.Context, id string) (*types.Result, error) {
	r, err := scanResult(s.pool.QueryRow(ctx,
		"SELECT "+resultColumns+" FROM results WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("result %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return r, nil
}

func (s *Store) listResults(ctx context.Context, query string, args ...any) ([]types.Result, error) {
	rows, _ := s.pool.Query(ctx, query, args...)
	defer rows.Close()
	var out []types.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) ListResultsForArtifact(ctx context.Context, artifactID, courseMemberID string) ([]types.Result, error) {
	return s.listResults(ctx, `
SELECT `+resultColumns+` FROM results
WHERE submission_artifact_id = $1 AND course_member_id = $2
ORDER BY created_at DESC`, artifactID, courseMemberID)
}

func (s *Store) FindResultByVersion(ctx context.Context, courseMemberID, courseContentID, versionIdentifier string) ([]types.Result, error) {
	return s.listResults(ctx, `
SELECT `+resultColumns+` FROM results
WHERE course_member_id = $1 AND course_content_id = $2 AND version_identifier = $3
ORDER BY created_at DESC`, courseMemberID, courseContentID, versionIdentifier)
}

func (s *Store) CountResultsForArtifact(ctx context.Context, artifactID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM results WHERE submission_artifact_id = $1`, artifactID).Scan(&count)
	if err != nil {
		return 0, convertError(err)
	}
	return count, nil
}

func (s *Store) UpdateResult(ctx context.Context, result *types.Result) error {
	props, err := jsonArg(result.Properties)
	if err != nil {
		return trace.Wrap(err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE results SET status = $2, grade = $3, result_json = $4::jsonb, log_text = $5,
	test_system_id = $6, reference_version_identifier = $7, properties = $8::jsonb,
	started_at = $9, finished_at = $10, updated_at = $11
WHERE id = $1`,
		result.ID, int(result.Status), result.Grade, rawJSONArg(result.ResultJSON), result.LogText,
		result.TestSystemID, result.ReferenceVersionIdentifier, props,
		result.StartedAt, result.FinishedAt, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("result %s not found", result.ID)
	}
	return nil
}

// resultFilterColumns mirrors the resource the memory store builds for
// a result: the course comes from the tested content, the member's user
// answers the member-user clause, and the group clause joins through
// the artifact.
var resultFilterColumns = filterColumns{
	ID:           "results.id",
	CourseMember: "results.course_member_id",
	Course: "(SELECT cc.course_id FROM course_contents cc " +
		"WHERE cc.id = results.course_content_id)",
	MemberUserExpr: "EXISTS (SELECT 1 FROM course_members cm " +
		"WHERE cm.id = results.course_member_id AND cm.user_id = ANY(%s))",
	GroupUserExpr: groupUserExpr("(SELECT sa.submission_group_id FROM submission_artifacts sa " +
		"WHERE sa.id = results.submission_artifact_id)"),
}

func (s *Store) ListResults(ctx context.Context, filter authz.RowFilter) ([]types.Result, error) {
	var args []any
	where := whereFilter(filter, resultFilterColumns, &args)
	return s.listResults(ctx,
		"SELECT "+resultColumns+" FROM results WHERE "+where+" ORDER BY created_at DESC",
		args...)
}
