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

// Package services defines the storage interfaces the control plane is
// written against. lib/storage implements them on Postgres; the memory
// implementation in this package backs tests and development.
package services

import (
	"context"
	"time"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// Identity stores users, their global roles, provider account
// bindings, profiles, API tokens, and session rows.
type Identity interface {
	// CreateUser persists a new user and returns it with the id set.
	CreateUser(ctx context.Context, user *types.User) (*types.User, error)
	// GetUser fetches a user by id.
	GetUser(ctx context.Context, id string) (*types.User, error)
	// GetUserByUsername fetches a user by login name.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	// UpdateUser persists mutable user fields.
	UpdateUser(ctx context.Context, user *types.User) error

	// GetUserRoles returns the user's global roles.
	GetUserRoles(ctx context.Context, userID string) (types.Roles, error)
	// AddUserRole grants a global role, idempotently.
	AddUserRole(ctx context.Context, userID string, role types.Role) error

	// GetRoleClaims expands a global role into its (resource, action)
	// claim rows.
	GetRoleClaims(ctx context.Context, role types.Role) ([]types.RoleClaim, error)
	// SetRoleClaims replaces the claim rows of a role.
	SetRoleClaims(ctx context.Context, role types.Role, claims []types.RoleClaim) error

	// CreateAccount binds a provider account to a user.
	CreateAccount(ctx context.Context, account *types.Account) (*types.Account, error)
	// GetAccount resolves a provider account to its binding.
	GetAccount(ctx context.Context, provider, providerURL, providerAccountID string) (*types.Account, error)

	// GetStudentProfile fetches the profile of a user.
	GetStudentProfile(ctx context.Context, userID string) (*types.StudentProfile, error)
	// UpsertStudentProfile creates or replaces a profile.
	UpsertStudentProfile(ctx context.Context, profile *types.StudentProfile) error

	// CreateApiToken persists a new API token row.
	CreateApiToken(ctx context.Context, token *types.ApiToken) (*types.ApiToken, error)
	// GetApiTokenByHash fetches a token row by its hex SHA-256.
	GetApiTokenByHash(ctx context.Context, hash string) (*types.ApiToken, error)
	// ListApiTokens returns all token rows of a user.
	ListApiTokens(ctx context.Context, userID string) ([]types.ApiToken, error)
	// RevokeApiToken sets RevokedAt on a token row.
	RevokeApiToken(ctx context.Context, id string) error

	// CreateSession persists a session row.
	CreateSession(ctx context.Context, session *types.Session) (*types.Session, error)
	// GetSessionByRefreshHash fetches a session by refresh token hash.
	GetSessionByRefreshHash(ctx context.Context, hash []byte) (*types.Session, error)
	// UpdateSessionAccess replaces the access hash and expiry after a
	// refresh, keyed on the stable session id.
	UpdateSessionAccess(ctx context.Context, id, sessionIDHash string, expiresAt time.Time) error
	// EndSession marks the session as ended.
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	// ListSessions returns all session rows of a user.
	ListSessions(ctx context.Context, userID string) ([]types.Session, error)
}

// Courses stores the container hierarchy, content trees, content
// types, execution backends, memberships, and course groups.
type Courses interface {
	// CreateOrganization persists an organization.
	CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error)
	// GetOrganization fetches an organization by id.
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	// CreateCourseFamily persists a course family.
	CreateCourseFamily(ctx context.Context, family *types.CourseFamily) (*types.CourseFamily, error)
	// GetCourseFamily fetches a family by id.
	GetCourseFamily(ctx context.Context, id string) (*types.CourseFamily, error)
	// CreateCourse persists a course.
	CreateCourse(ctx context.Context, course *types.Course) (*types.Course, error)
	// GetCourse fetches a course by id.
	GetCourse(ctx context.Context, id string) (*types.Course, error)
	// ListCourses returns the courses admitted by the filter.
	ListCourses(ctx context.Context, filter authz.RowFilter) ([]types.Course, error)

	// CreateCourseContentType persists a content type.
	CreateCourseContentType(ctx context.Context, t *types.CourseContentType) (*types.CourseContentType, error)
	// GetCourseContentType fetches a content type by id.
	GetCourseContentType(ctx context.Context, id string) (*types.CourseContentType, error)

	// CreateCourseContent persists a content node.
	CreateCourseContent(ctx context.Context, content *types.CourseContent) (*types.CourseContent, error)
	// GetCourseContent fetches a content node by id.
	GetCourseContent(ctx context.Context, id string) (*types.CourseContent, error)
	// ListCourseContents returns a course's nodes ordered by path.
	ListCourseContents(ctx context.Context, courseID string) ([]types.CourseContent, error)
	// ListCourseContentDescendants returns the strict descendants of a
	// path inside one course, ordered by path.
	ListCourseContentDescendants(ctx context.Context, courseID string, path types.Path) ([]types.CourseContent, error)

	// CreateExecutionBackend persists a backend.
	CreateExecutionBackend(ctx context.Context, backend *types.ExecutionBackend) (*types.ExecutionBackend, error)
	// GetExecutionBackend fetches a backend by id.
	GetExecutionBackend(ctx context.Context, id string) (*types.ExecutionBackend, error)

	// CreateCourseMember persists a membership.
	CreateCourseMember(ctx context.Context, member *types.CourseMember) (*types.CourseMember, error)
	// GetCourseMember fetches a membership by id.
	GetCourseMember(ctx context.Context, id string) (*types.CourseMember, error)
	// GetCourseMemberByUser fetches the membership of a user in a
	// course.
	GetCourseMemberByUser(ctx context.Context, courseID, userID string) (*types.CourseMember, error)
	// ListCourseMembersByUser returns all memberships of a user.
	ListCourseMembersByUser(ctx context.Context, userID string) ([]types.CourseMember, error)
	// ListCourseMembers returns the memberships admitted by the filter.
	ListCourseMembers(ctx context.Context, filter authz.RowFilter) ([]types.CourseMember, error)
	// UpdateCourseMember persists role and group changes.
	UpdateCourseMember(ctx context.Context, member *types.CourseMember) error

	// CreateCourseGroup persists a course group.
	CreateCourseGroup(ctx context.Context, group *types.CourseGroup) (*types.CourseGroup, error)
	// GetCourseGroup fetches a course group by id.
	GetCourseGroup(ctx context.Context, id string) (*types.CourseGroup, error)
}

// Submissions stores submission groups, their members, uploaded
// artifacts, and tutor grades.
type Submissions interface {
	// CreateSubmissionGroup persists a group.
	CreateSubmissionGroup(ctx context.Context, group *types.SubmissionGroup) (*types.SubmissionGroup, error)
	// GetSubmissionGroup fetches a group by id.
	GetSubmissionGroup(ctx context.Context, id string) (*types.SubmissionGroup, error)
	// ListSubmissionGroupMembers returns the group's member rows.
	ListSubmissionGroupMembers(ctx context.Context, groupID string) ([]types.SubmissionGroupMember, error)
	// ListSubmissionGroupUserIDs returns the user ids behind the
	// group's members, the unit visibility filters join through.
	ListSubmissionGroupUserIDs(ctx context.Context, groupID string) ([]string, error)
	// AddSubmissionGroupMember places a member in a group. Fails with
	// AlreadyExists when the member already has a group for the
	// content item.
	AddSubmissionGroupMember(ctx context.Context, member *types.SubmissionGroupMember) (*types.SubmissionGroupMember, error)
	// GetSubmissionGroupForMember returns the member's group for one
	// content item.
	GetSubmissionGroupForMember(ctx context.Context, courseMemberID, courseContentID string) (*types.SubmissionGroup, error)

	// CreateSubmissionArtifact persists an artifact row.
	CreateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) (*types.SubmissionArtifact, error)
	// GetSubmissionArtifact fetches an artifact by id.
	GetSubmissionArtifact(ctx context.Context, id string) (*types.SubmissionArtifact, error)
	// GetLatestSubmissionArtifact returns the most recently created
	// artifact of a group.
	GetLatestSubmissionArtifact(ctx context.Context, groupID string) (*types.SubmissionArtifact, error)
	// GetSubmissionArtifactByVersion returns the group's artifact with
	// the given version identifier.
	GetSubmissionArtifactByVersion(ctx context.Context, groupID, versionIdentifier string) (*types.SubmissionArtifact, error)
	// CountSubmissionArtifacts counts the group's artifacts,
	// optionally restricted to official submissions.
	CountSubmissionArtifacts(ctx context.Context, groupID string, submitOnly bool) (int, error)
	// UpdateSubmissionArtifact persists the mutable Submit flag and
	// Properties of an artifact.
	UpdateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) error

	// CreateSubmissionGrade persists a grade row.
	CreateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) (*types.SubmissionGrade, error)
	// GetSubmissionGrade fetches a grade by id.
	GetSubmissionGrade(ctx context.Context, id string) (*types.SubmissionGrade, error)
	// UpdateSubmissionGrade persists grade, status, and comment edits.
	UpdateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) error
	// ListSubmissionGrades returns an artifact's grades, newest first.
	ListSubmissionGrades(ctx context.Context, artifactID string) ([]types.SubmissionGrade, error)
}

// Results stores test execution outcomes. CreateResult surfaces the
// partial-unique-index conflict as trace.AlreadyExists so the
// scheduler can translate it.
type Results interface {
	// CreateResult persists a result row. At most one result per
	// (member, content, version) may be outside the failed, cancelled,
	// and crashed states; violating inserts fail with AlreadyExists.
	CreateResult(ctx context.Context, result *types.Result) (*types.Result, error)
	// GetResult fetches a result by id.
	GetResult(ctx context.Context, id string) (*types.Result, error)
	// ListResultsForArtifact returns the results a member produced for
	// one artifact, newest first.
	ListResultsForArtifact(ctx context.Context, artifactID, courseMemberID string) ([]types.Result, error)
	// FindResultByVersion returns results for a (member, content,
	// version) triple, newest first.
	FindResultByVersion(ctx context.Context, courseMemberID, courseContentID, versionIdentifier string) ([]types.Result, error)
	// CountResultsForArtifact counts the test runs charged against one
	// artifact. The run quota is scoped to the uploaded version, not the
	// whole group.
	CountResultsForArtifact(ctx context.Context, artifactID string) (int, error)
	// UpdateResult persists a reconciled result row.
	UpdateResult(ctx context.Context, result *types.Result) error
	// ListResults returns the results admitted by the filter, newest
	// first.
	ListResults(ctx context.Context, filter authz.RowFilter) ([]types.Result, error)
}

// Deployments stores content deployments, their history log, and the
// example catalog they bind to.
type Deployments interface {
	// GetDeploymentByContent returns the deployment row of a content
	// item, or NotFound.
	GetDeploymentByContent(ctx context.Context, courseContentID string) (*types.CourseContentDeployment, error)
	// CreateDeployment persists a deployment row.
	CreateDeployment(ctx context.Context, d *types.CourseContentDeployment) (*types.CourseContentDeployment, error)
	// UpdateDeployment persists the mutable deployment fields.
	UpdateDeployment(ctx context.Context, d *types.CourseContentDeployment) error
	// AppendDeploymentHistory appends one immutable history entry.
	AppendDeploymentHistory(ctx context.Context, entry *types.DeploymentHistory) (*types.DeploymentHistory, error)
	// ListDeploymentHistory returns a deployment's log, oldest first.
	ListDeploymentHistory(ctx context.Context, deploymentID string) ([]types.DeploymentHistory, error)

	// CreateExample persists an example.
	CreateExample(ctx context.Context, example *types.Example) (*types.Example, error)
	// GetExample fetches an example by id.
	GetExample(ctx context.Context, id string) (*types.Example, error)
	// GetExampleByIdentifier fetches an example by its ltree
	// identifier.
	GetExampleByIdentifier(ctx context.Context, identifier types.Path) (*types.Example, error)
	// CreateExampleVersion persists a version.
	CreateExampleVersion(ctx context.Context, version *types.ExampleVersion) (*types.ExampleVersion, error)
	// GetExampleVersion fetches a version by id.
	GetExampleVersion(ctx context.Context, id string) (*types.ExampleVersion, error)
	// GetExampleVersionByTag fetches an example's version by its
	// normalized tag.
	GetExampleVersionByTag(ctx context.Context, exampleID, versionTag string) (*types.ExampleVersion, error)
	// ListExamplesByIdentifiers resolves a set of identifiers in one
	// lookup, returning the found examples keyed by identifier.
	ListExamplesByIdentifiers(ctx context.Context, identifiers []types.Path) (map[types.Path]types.Example, error)
	// ListExampleVersions returns an example's versions, newest first.
	ListExampleVersions(ctx context.Context, exampleID string) ([]types.ExampleVersion, error)
}

// Messages stores hierarchical messages and per-user read markers.
type Messages interface {
	// CreateMessage persists a message.
	CreateMessage(ctx context.Context, message *types.Message) (*types.Message, error)
	// GetMessage fetches a message by id.
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	// ListMessages returns the messages admitted by the filter, newest
	// first.
	ListMessages(ctx context.Context, filter authz.RowFilter) ([]types.Message, error)
	// UpdateMessage persists title and content edits.
	UpdateMessage(ctx context.Context, message *types.Message) error
	// DeleteMessage removes a message and its read markers.
	DeleteMessage(ctx context.Context, id string) error

	// MarkMessageRead inserts the (message, user) read marker if
	// absent. Returns true when the marker was newly created.
	MarkMessageRead(ctx context.Context, messageID, userID string) (bool, error)
	// MarkMessageUnread deletes the read marker if present. Returns
	// true when a marker was removed.
	MarkMessageUnread(ctx context.Context, messageID, userID string) (bool, error)
	// CountUnreadMessages counts the messages visible through the
	// filter that the user has not marked read.
	CountUnreadMessages(ctx context.Context, userID string, filter authz.RowFilter) (int, error)
}

// Services aggregates all storage interfaces behind one handle.
type Services interface {
	Identity
	Courses
	Submissions
	Results
	Deployments
	Messages
}
