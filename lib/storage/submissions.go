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

const groupColumns = `id, course_id, course_content_id, max_group_size, max_submissions,
	max_test_runs, join_code, requires_approval, created_at, updated_at`

func scanGroup(row pgx.Row) (*types.SubmissionGroup, error) {
	var g types.SubmissionGroup
	err := row.Scan(&g.ID, &g.CourseID, &g.CourseContentID, &g.MaxGroupSize, &g.MaxSubmissions,
		&g.MaxTestRuns, &g.JoinCode, &g.RequiresApproval, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) CreateSubmissionGroup(ctx context.Context, group *types.SubmissionGroup) (*types.SubmissionGroup, error) {
	if err := group.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *group
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	_, err := s.pool.Exec(ctx, `
INSERT INTO submission_groups (id, course_id, course_content_id, max_group_size, max_submissions,
	max_test_runs, join_code, requires_approval, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		out.ID, out.CourseID, out.CourseContentID, out.MaxGroupSize, out.MaxSubmissions,
		out.MaxTestRuns, out.JoinCode, out.RequiresApproval, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetSubmissionGroup(ctx context.Context, id string) (*types.SubmissionGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx,
		"SELECT "+groupColumns+" FROM submission_groups WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("submission group %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return g, nil
}

func (s *Store) ListSubmissionGroupMembers(ctx context.Context, groupID string) ([]types.SubmissionGroupMember, error) {
	rows, _ := s.pool.Query(ctx, `
SELECT id, submission_group_id, course_member_id, created_at
FROM submission_group_members WHERE submission_group_id = $1
ORDER BY created_at`, groupID)
	defer rows.Close()
	var out []types.SubmissionGroupMember
	for rows.Next() {
		var sm types.SubmissionGroupMember
		if err := rows.Scan(&sm.ID, &sm.SubmissionGroupID, &sm.CourseMemberID, &sm.CreatedAt); err != nil {
			return nil, convertError(err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) ListSubmissionGroupUserIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, _ := s.pool.Query(ctx, `
SELECT cm.user_id
FROM submission_group_members sgm
JOIN course_members cm ON cm.id = sgm.course_member_id
WHERE sgm.submission_group_id = $1
ORDER BY cm.user_id`, groupID)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, convertError(err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) AddSubmissionGroupMember(ctx context.Context, member *types.SubmissionGroupMember) (*types.SubmissionGroupMember, error) {
	group, err := s.GetSubmissionGroup(ctx, member.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := *member
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	// course_content_id is denormalized from the group so the one-group-
	// per-content rule is a plain unique constraint
	_, err = s.pool.Exec(ctx, `
INSERT INTO submission_group_members (id, submission_group_id, course_member_id, course_content_id, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		out.ID, out.SubmissionGroupID, out.CourseMemberID, group.CourseContentID, out.CreatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("member %s already has a group for this content", out.CourseMemberID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetSubmissionGroupForMember(ctx context.Context, courseMemberID, courseContentID string) (*types.SubmissionGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, `
SELECT sg.id, sg.course_id, sg.course_content_id, sg.max_group_size, sg.max_submissions,
	sg.max_test_runs, sg.join_code, sg.requires_approval, sg.created_at, sg.updated_at
FROM submission_groups sg
JOIN submission_group_members sgm ON sgm.submission_group_id = sg.id
WHERE sgm.course_member_id = $1 AND sg.course_content_id = $2`,
		courseMemberID, courseContentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("member %s has no submission group for content %s", courseMemberID, courseContentID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return g, nil
}

const artifactColumns = `id, submission_group_id, uploader_course_member_id, bucket, object_key,
	filename, content_type, size, version_identifier, submit, properties, created_at`

func scanArtifact(row pgx.Row) (*types.SubmissionArtifact, error) {
	var a types.SubmissionArtifact
	var props []byte
	err := row.Scan(&a.ID, &a.SubmissionGroupID, &a.UploaderCourseMemberID, &a.Bucket, &a.ObjectKey,
		&a.Filename, &a.ContentType, &a.Size, &a.VersionIdentifier, &a.Submit, &props, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := jsonField(props, &a.Properties); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) (*types.SubmissionArtifact, error) {
	if err := artifact.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *artifact
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	props, err := jsonArg(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO submission_artifacts (id, submission_group_id, uploader_course_member_id, bucket, object_key,
	filename, content_type, size, version_identifier, submit, properties, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12)`,
		out.ID, out.SubmissionGroupID, out.UploaderCourseMemberID, out.Bucket, out.ObjectKey,
		out.Filename, out.ContentType, out.Size, out.VersionIdentifier, out.Submit, props, out.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetSubmissionArtifact(ctx context.Context, id string) (*types.SubmissionArtifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx,
		"SELECT "+artifactColumns+" FROM submission_artifacts WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("submission artifact %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return a, nil
}

func (s *Store) GetLatestSubmissionArtifact(ctx context.Context, groupID string) (*types.SubmissionArtifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, `
SELECT `+artifactColumns+` FROM submission_artifacts
WHERE submission_group_id = $1
ORDER BY created_at DESC LIMIT 1`, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("group %s has no submission artifacts", groupID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return a, nil
}

func (s *Store) GetSubmissionArtifactByVersion(ctx context.Context, groupID, versionIdentifier string) (*types.SubmissionArtifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, `
SELECT `+artifactColumns+` FROM submission_artifacts
WHERE submission_group_id = $1 AND version_identifier = $2
ORDER BY created_at DESC LIMIT 1`, groupID, versionIdentifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("group %s has no artifact with version %q", groupID, versionIdentifier)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return a, nil
}

func (s *Store) CountSubmissionArtifacts(ctx context.Context, groupID string, submitOnly bool) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM submission_artifacts
WHERE submission_group_id = $1 AND ($2 = false OR submit)`,
		groupID, submitOnly).Scan(&count)
	if err != nil {
		return 0, convertError(err)
	}
	return count, nil
}

func (s *Store) UpdateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) error {
	props, err := jsonArg(artifact.Properties)
	if err != nil {
		return trace.Wrap(err)
	}
	// only the Submit flag and Properties are mutable
	tag, err := s.pool.Exec(ctx, `
UPDATE submission_artifacts SET submit = $2, properties = $3::jsonb
WHERE id = $1`,
		artifact.ID, artifact.Submit, props)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("submission artifact %s not found", artifact.ID)
	}
	return nil
}

const gradeColumns = "id, submission_artifact_id, graded_by_course_member_id, grade, status, comment, created_at"

func scanGrade(row pgx.Row) (*types.SubmissionGrade, error) {
	var g types.SubmissionGrade
	var status string
	err := row.Scan(&g.ID, &g.SubmissionArtifactID, &g.GradedByCourseMemberID,
		&g.Grade, &status, &g.Comment, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.Status = types.GradeStatus(status)
	return &g, nil
}

func (s *Store) CreateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) (*types.SubmissionGrade, error) {
	if err := grade.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *grade
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO submission_grades (id, submission_artifact_id, graded_by_course_member_id, grade, status, comment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		out.ID, out.SubmissionArtifactID, out.GradedByCourseMemberID,
		out.Grade, string(out.Status), out.Comment, out.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetSubmissionGrade(ctx context.Context, id string) (*types.SubmissionGrade, error) {
	g, err := scanGrade(s.pool.QueryRow(ctx,
		"SELECT "+gradeColumns+" FROM submission_grades WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("submission grade %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return g, nil
}

func (s *Store) UpdateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) error {
	if err := grade.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE submission_grades SET grade = $2, status = $3, comment = $4
WHERE id = $1`,
		grade.ID, grade.Grade, string(grade.Status), grade.Comment)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("submission grade %s not found", grade.ID)
	}
	return nil
}

func (s *Store) ListSubmissionGrades(ctx context.Context, artifactID string) ([]types.SubmissionGrade, error) {
	rows, _ := s.pool.Query(ctx, `
SELECT `+gradeColumns+` FROM submission_grades
WHERE submission_artifact_id = $1
ORDER BY created_at DESC`, artifactID)
	defer rows.Close()
	var out []types.SubmissionGrade
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}
