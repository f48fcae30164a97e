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
	"encoding/base64"
	"errors"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// marshalProvider folds provider settings into one jsonb column. The
// encrypted token is excluded from the type's own JSON form, so it is
// carried explicitly here.
func marshalProvider(p types.ProviderProperties) (any, error) {
	if p.GitlabURL == "" && p.GroupPath == "" && len(p.EncryptedToken) == 0 {
		return nil, nil
	}
	m := map[string]any{}
	if p.GitlabURL != "" {
		m["gitlab_url"] = p.GitlabURL
	}
	if p.GroupPath != "" {
		m["group_path"] = p.GroupPath
	}
	if len(p.EncryptedToken) > 0 {
		m["encrypted_token"] = base64.StdEncoding.EncodeToString(p.EncryptedToken)
	}
	return jsonArg(m)
}

func unmarshalProvider(data []byte, out *types.ProviderProperties) error {
	var m map[string]any
	if err := jsonField(data, &m); err != nil {
		return trace.Wrap(err)
	}
	if v, ok := m["gitlab_url"].(string); ok {
		out.GitlabURL = v
	}
	if v, ok := m["group_path"].(string); ok {
		out.GroupPath = v
	}
	if v, ok := m["encrypted_token"].(string); ok {
		token, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return trace.Wrap(err)
		}
		out.EncryptedToken = token
	}
	return nil
}

func (s *Store) CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	out := *org
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	props, err := marshalProvider(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO organizations (id, title, path, properties, created_at, updated_at)
VALUES ($1, $2, $3::ltree, $4::jsonb, $5, $6)`,
		out.ID, out.Title, string(out.Path), props, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var o types.Organization
	var path string
	var props []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, title, path::text, properties, created_at, updated_at
FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Title, &path, &props, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("organization %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	o.Path = types.Path(path)
	if err := unmarshalProvider(props, &o.Properties); err != nil {
		return nil, trace.Wrap(err)
	}
	return &o, nil
}

func (s *Store) CreateCourseFamily(ctx context.Context, family *types.CourseFamily) (*types.CourseFamily, error) {
	out := *family
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	props, err := marshalProvider(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO course_families (id, organization_id, title, path, properties, created_at, updated_at)
VALUES ($1, $2, $3, $4::ltree, $5::jsonb, $6, $7)`,
		out.ID, out.OrganizationID, out.Title, string(out.Path), props, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourseFamily(ctx context.Context, id string) (*types.CourseFamily, error) {
	var f types.CourseFamily
	var path string
	var props []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, organization_id, title, path::text, properties, created_at, updated_at
FROM course_families WHERE id = $1`, id,
	).Scan(&f.ID, &f.OrganizationID, &f.Title, &path, &props, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course family %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	f.Path = types.Path(path)
	if err := unmarshalProvider(props, &f.Properties); err != nil {
		return nil, trace.Wrap(err)
	}
	return &f, nil
}

const courseColumns = "id, course_family_id, title, path::text, properties, created_at, updated_at"

func scanCourse(row pgx.Row) (*types.Course, error) {
	var c types.Course
	var path string
	var props []byte
	err := row.Scan(&c.ID, &c.CourseFamilyID, &c.Title, &path, &props, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Path = types.Path(path)
	if err := unmarshalProvider(props, &c.Properties); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCourse(ctx context.Context, course *types.Course) (*types.Course, error) {
	if err := course.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *course
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	props, err := marshalProvider(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO courses (id, course_family_id, title, path, properties, created_at, updated_at)
VALUES ($1, $2, $3, $4::ltree, $5::jsonb, $6, $7)`,
		out.ID, out.CourseFamilyID, out.Title, string(out.Path), props, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourse(ctx context.Context, id string) (*types.Course, error) {
	c, err := scanCourse(s.pool.QueryRow(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return c, nil
}

// courseFilterColumns: a course's id doubles as its own course scope.
var courseFilterColumns = filterColumns{
	ID:     "id",
	Course: "id",
}

func (s *Store) ListCourses(ctx context.Context, filter authz.RowFilter) ([]types.Course, error) {
	var args []any
	where := whereFilter(filter, courseFilterColumns, &args)
	rows, _ := s.pool.Query(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE "+where+" ORDER BY path", args...)
	defer rows.Close()
	var out []types.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) CreateCourseContentType(ctx context.Context, t *types.CourseContentType) (*types.CourseContentType, error) {
	if err := t.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *t
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	_, err := s.pool.Exec(ctx, `
INSERT INTO course_content_types (id, course_id, slug, title, kind, color, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		out.ID, out.CourseID, out.Slug, out.Title, string(out.Kind), out.Color, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("content type %q already exists in course", out.Slug)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourseContentType(ctx context.Context, id string) (*types.CourseContentType, error) {
	var t types.CourseContentType
	var kind string
	err := s.pool.QueryRow(ctx, `
SELECT id, course_id, slug, title, kind, color, created_at, updated_at
FROM course_content_types WHERE id = $1`, id,
	).Scan(&t.ID, &t.CourseID, &t.Slug, &t.Title, &kind, &t.Color, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course content type %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	t.Kind = types.CourseContentKind(kind)
	return &t, nil
}

const contentColumns = `id, course_id, course_content_type_id, title, description, path::text, position,
	execution_backend_id, max_group_size, max_submissions, max_test_runs, properties, created_at, updated_at`

func scanContent(row pgx.Row) (*types.CourseContent, error) {
	var c types.CourseContent
	var path string
	var props []byte
	err := row.Scan(&c.ID, &c.CourseID, &c.CourseContentTypeID, &c.Title, &c.Description,
		&path, &c.Position, &c.ExecutionBackendID, &c.MaxGroupSize,
		&c.MaxSubmissions, &c.MaxTestRuns, &props, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Path = types.Path(path)
	if err := jsonField(props, &c.Properties); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCourseContent(ctx context.Context, content *types.CourseContent) (*types.CourseContent, error) {
	if err := content.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *content
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
INSERT INTO course_contents (id, course_id, course_content_type_id, title, description, path, position,
	execution_backend_id, max_group_size, max_submissions, max_test_runs, properties, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::ltree, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)`,
		out.ID, out.CourseID, out.CourseContentTypeID, out.Title, out.Description,
		string(out.Path), out.Position, out.ExecutionBackendID, out.MaxGroupSize,
		out.MaxSubmissions, out.MaxTestRuns, props, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("content path %q already exists in course", out.Path)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourseContent(ctx context.Context, id string) (*types.CourseContent, error) {
	c, err := scanContent(s.pool.QueryRow(ctx,
		"SELECT "+contentColumns+" FROM course_contents WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course content %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return c, nil
}

func (s *Store) listContents(ctx context.Context, query string, args ...any) ([]types.CourseContent, error) {
	rows, _ := s.pool.Query(ctx, query, args...)
	defer rows.Close()
	var out []types.CourseContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) ListCourseContents(ctx context.Context, courseID string) ([]types.CourseContent, error) {
	return s.listContents(ctx,
		"SELECT "+contentColumns+" FROM course_contents WHERE course_id = $1 ORDER BY path",
		courseID)
}

func (s *Store) ListCourseContentDescendants(ctx context.Context, courseID string, path types.Path) ([]types.CourseContent, error) {
	// <@ is ltree containment; the equality guard excludes the node itself
	return s.listContents(ctx, `
SELECT `+contentColumns+` FROM course_contents
WHERE course_id = $1 AND path <@ $2::ltree AND path <> $2::ltree
ORDER BY path`,
		courseID, string(path))
}

func (s *Store) CreateExecutionBackend(ctx context.Context, backend *types.ExecutionBackend) (*types.ExecutionBackend, error) {
	out := *backend
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	props, err := jsonArg(out.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO execution_backends (id, slug, type, properties, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)`,
		out.ID, out.Slug, out.Type, props, out.CreatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetExecutionBackend(ctx context.Context, id string) (*types.ExecutionBackend, error) {
	var b types.ExecutionBackend
	var props []byte
	err := s.pool.QueryRow(ctx,
		"SELECT id, slug, type, properties, created_at FROM execution_backends WHERE id = $1", id,
	).Scan(&b.ID, &b.Slug, &b.Type, &props, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("execution backend %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	if err := jsonField(props, &b.Properties); err != nil {
		return nil, trace.Wrap(err)
	}
	return &b, nil
}

const memberColumns = "id, course_id, user_id, course_role, course_group_id, created_at, updated_at"

func scanMember(row pgx.Row) (*types.CourseMember, error) {
	var m types.CourseMember
	var role string
	err := row.Scan(&m.ID, &m.CourseID, &m.UserID, &role, &m.CourseGroupID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.CourseRole = types.CourseRole(role)
	return &m, nil
}

func (s *Store) CreateCourseMember(ctx context.Context, member *types.CourseMember) (*types.CourseMember, error) {
	if err := member.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *member
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	_, err := s.pool.Exec(ctx, `
INSERT INTO course_members (id, course_id, user_id, course_role, course_group_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		out.ID, out.CourseID, out.UserID, string(out.CourseRole), out.CourseGroupID, out.CreatedAt, out.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, trace.AlreadyExists("user %s is already a member of course %s", out.UserID, out.CourseID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourseMember(ctx context.Context, id string) (*types.CourseMember, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM course_members WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course member %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return m, nil
}

func (s *Store) GetCourseMemberByUser(ctx context.Context, courseID, userID string) (*types.CourseMember, error) {
	m, err := scanMember(s.pool.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM course_members WHERE course_id = $1 AND user_id = $2",
		courseID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("user %s is not a member of course %s", userID, courseID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return m, nil
}

func (s *Store) listMembers(ctx context.Context, query string, args ...any) ([]types.CourseMember, error) {
	rows, _ := s.pool.Query(ctx, query, args...)
	defer rows.Close()
	var out []types.CourseMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) ListCourseMembersByUser(ctx context.Context, userID string) ([]types.CourseMember, error) {
	return s.listMembers(ctx,
		"SELECT "+memberColumns+" FROM course_members WHERE user_id = $1 ORDER BY created_at",
		userID)
}

var memberFilterColumns = filterColumns{
	ID:          "id",
	Course:      "course_id",
	SubjectUser: "user_id",
	ExcludeRoleExpr: "NOT EXISTS (SELECT 1 FROM user_roles ur " +
		"WHERE ur.user_id = course_members.user_id AND ur.role = ANY(%s))",
}

func (s *Store) ListCourseMembers(ctx context.Context, filter authz.RowFilter) ([]types.CourseMember, error) {
	var args []any
	where := whereFilter(filter, memberFilterColumns, &args)
	return s.listMembers(ctx,
		"SELECT "+memberColumns+" FROM course_members WHERE "+where+" ORDER BY created_at",
		args...)
}

func (s *Store) UpdateCourseMember(ctx context.Context, member *types.CourseMember) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE course_members SET course_role = $2, course_group_id = $3, updated_at = $4
WHERE id = $1`,
		member.ID, string(member.CourseRole), member.CourseGroupID, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("course member %s not found", member.ID)
	}
	return nil
}

func (s *Store) CreateCourseGroup(ctx context.Context, group *types.CourseGroup) (*types.CourseGroup, error) {
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
INSERT INTO course_groups (id, course_id, title, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		out.ID, out.CourseID, out.Title, out.Description, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetCourseGroup(ctx context.Context, id string) (*types.CourseGroup, error) {
	var g types.CourseGroup
	err := s.pool.QueryRow(ctx, `
SELECT id, course_id, title, description, created_at, updated_at
FROM course_groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.CourseID, &g.Title, &g.Description, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("course group %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return &g, nil
}
