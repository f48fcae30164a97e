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

package services

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// Memory implements Services on process-local maps. It enforces the
// same uniqueness rules the Postgres schema carries, so the domain
// services exercise identical conflict paths in tests and development.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock

	users    map[string]types.User
	roles    map[string][]types.Role
	claims   map[types.Role][]types.RoleClaim
	accounts map[string]types.Account
	profiles map[string]types.StudentProfile
	tokens   map[string]types.ApiToken
	sessions map[string]types.Session

	orgs     map[string]types.Organization
	families map[string]types.CourseFamily
	courses  map[string]types.Course
	ctypes   map[string]types.CourseContentType
	contents map[string]types.CourseContent
	backends map[string]types.ExecutionBackend
	members  map[string]types.CourseMember
	cgroups  map[string]types.CourseGroup

	sgroups   map[string]types.SubmissionGroup
	smembers  map[string]types.SubmissionGroupMember
	artifacts map[string]types.SubmissionArtifact
	grades    map[string]types.SubmissionGrade

	results map[string]types.Result

	deployments map[string]types.CourseContentDeployment
	history     map[string][]types.DeploymentHistory
	examples    map[string]types.Example
	versions    map[string]types.ExampleVersion

	messages map[string]types.Message
	reads    map[string]map[string]time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:       clock,
		users:       make(map[string]types.User),
		roles:       make(map[string][]types.Role),
		claims:      make(map[types.Role][]types.RoleClaim),
		accounts:    make(map[string]types.Account),
		profiles:    make(map[string]types.StudentProfile),
		tokens:      make(map[string]types.ApiToken),
		sessions:    make(map[string]types.Session),
		orgs:        make(map[string]types.Organization),
		families:    make(map[string]types.CourseFamily),
		courses:     make(map[string]types.Course),
		ctypes:      make(map[string]types.CourseContentType),
		contents:    make(map[string]types.CourseContent),
		backends:    make(map[string]types.ExecutionBackend),
		members:     make(map[string]types.CourseMember),
		cgroups:     make(map[string]types.CourseGroup),
		sgroups:     make(map[string]types.SubmissionGroup),
		smembers:    make(map[string]types.SubmissionGroupMember),
		artifacts:   make(map[string]types.SubmissionArtifact),
		grades:      make(map[string]types.SubmissionGrade),
		results:     make(map[string]types.Result),
		deployments: make(map[string]types.CourseContentDeployment),
		history:     make(map[string][]types.DeploymentHistory),
		examples:    make(map[string]types.Example),
		versions:    make(map[string]types.ExampleVersion),
		messages:    make(map[string]types.Message),
		reads:       make(map[string]map[string]time.Time),
	}
}

func newID() string { return uuid.NewString() }

// Identity

func (m *Memory) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return nil, trace.AlreadyExists("user %q already exists", user.Username)
		}
	}
	out := *user
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.users[out.ID] = out
	return &out, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, trace.NotFound("user %s not found", id)
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, trace.NotFound("user %q not found", username)
}

func (m *Memory) UpdateUser(ctx context.Context, user *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return trace.NotFound("user %s not found", user.ID)
	}
	out := *user
	out.UpdatedAt = m.clock.Now().UTC()
	m.users[out.ID] = out
	return nil
}

func (m *Memory) GetUserRoles(ctx context.Context, userID string) (types.Roles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(types.Roles{}, m.roles[userID]...), nil
}

func (m *Memory) AddUserRole(ctx context.Context, userID string, role types.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles[userID] {
		if r == role {
			return nil
		}
	}
	m.roles[userID] = append(m.roles[userID], role)
	return nil
}

func (m *Memory) GetRoleClaims(ctx context.Context, role types.Role) ([]types.RoleClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RoleClaim{}, m.claims[role]...), nil
}

func (m *Memory) SetRoleClaims(ctx context.Context, role types.Role, claims []types.RoleClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[role] = append([]types.RoleClaim{}, claims...)
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, account *types.Account) (*types.Account, error) {
	if err := account.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Provider == account.Provider && a.ProviderURL == account.ProviderURL &&
			a.ProviderAccountID == account.ProviderAccountID {
			return nil, trace.AlreadyExists("account binding already exists")
		}
	}
	out := *account
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.accounts[out.ID] = out
	return &out, nil
}

func (m *Memory) GetAccount(ctx context.Context, provider, providerURL, providerAccountID string) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Provider == provider && a.ProviderURL == providerURL &&
			a.ProviderAccountID == providerAccountID {
			out := a
			return &out, nil
		}
	}
	return nil, trace.NotFound("account %s@%s not found", providerAccountID, provider)
}

func (m *Memory) GetStudentProfile(ctx context.Context, userID string) (*types.StudentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, trace.NotFound("profile of user %s not found", userID)
	}
	return &p, nil
}

func (m *Memory) UpsertStudentProfile(ctx context.Context, profile *types.StudentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *profile
	if out.ID == "" {
		out.ID = newID()
	}
	out.UpdatedAt = m.clock.Now().UTC()
	if prev, ok := m.profiles[out.UserID]; ok {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
	} else {
		out.CreatedAt = out.UpdatedAt
	}
	m.profiles[out.UserID] = out
	return nil
}

func (m *Memory) CreateApiToken(ctx context.Context, token *types.ApiToken) (*types.ApiToken, error) {
	if err := token.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == token.TokenHash {
			return nil, trace.AlreadyExists("api token already exists")
		}
	}
	out := *token
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.tokens[out.ID] = out
	return &out, nil
}

func (m *Memory) GetApiTokenByHash(ctx context.Context, hash string) (*types.ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			out := t
			return &out, nil
		}
	}
	return nil, trace.NotFound("api token not found")
}

func (m *Memory) ListApiTokens(ctx context.Context, userID string) ([]types.ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ApiToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeApiToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return trace.NotFound("api token %s not found", id)
	}
	now := m.clock.Now().UTC()
	t.RevokedAt = &now
	m.tokens[id] = t
	return nil
}

func (m *Memory) CreateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	if err := session.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionIDHash == session.SessionIDHash {
			return nil, trace.AlreadyExists("session already exists")
		}
	}
	out := *session
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.sessions[out.ID] = out
	return &out, nil
}

func (m *Memory) GetSessionByRefreshHash(ctx context.Context, hash []byte) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if bytes.Equal(s.RefreshTokenHash, hash) {
			out := s
			return &out, nil
		}
	}
	return nil, trace.NotFound("session not found")
}

func (m *Memory) UpdateSessionAccess(ctx context.Context, id, sessionIDHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return trace.NotFound("session %s not found", id)
	}
	s.SessionIDHash = sessionIDHash
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *Memory) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return trace.NotFound("session %s not found", id)
	}
	s.EndedAt = &endedAt
	m.sessions[id] = s
	return nil
}

func (m *Memory) ListSessions(ctx context.Context, userID string) ([]types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Courses

func (m *Memory) CreateOrganization(ctx context.Context, org *types.Organization) (*types.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *org
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.orgs[out.ID] = out
	return &out, nil
}

func (m *Memory) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, trace.NotFound("organization %s not found", id)
	}
	return &o, nil
}

func (m *Memory) CreateCourseFamily(ctx context.Context, family *types.CourseFamily) (*types.CourseFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *family
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.families[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourseFamily(ctx context.Context, id string) (*types.CourseFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[id]
	if !ok {
		return nil, trace.NotFound("course family %s not found", id)
	}
	return &f, nil
}

func (m *Memory) CreateCourse(ctx context.Context, course *types.Course) (*types.Course, error) {
	if err := course.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *course
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.courses[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourse(ctx context.Context, id string) (*types.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, trace.NotFound("course %s not found", id)
	}
	return &c, nil
}

func (m *Memory) ListCourses(ctx context.Context, filter authz.RowFilter) ([]types.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Course
	for _, c := range m.courses {
		res := authz.Resource{Kind: types.KindCourse, ID: c.ID, CourseID: c.ID}
		if filter.Matches(&res) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) CreateCourseContentType(ctx context.Context, t *types.CourseContentType) (*types.CourseContentType, error) {
	if err := t.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ctypes {
		if existing.CourseID == t.CourseID && existing.Slug == t.Slug {
			return nil, trace.AlreadyExists("content type %q already exists in course", t.Slug)
		}
	}
	out := *t
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.ctypes[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourseContentType(ctx context.Context, id string) (*types.CourseContentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ctypes[id]
	if !ok {
		return nil, trace.NotFound("course content type %s not found", id)
	}
	return &t, nil
}

func (m *Memory) CreateCourseContent(ctx context.Context, content *types.CourseContent) (*types.CourseContent, error) {
	if err := content.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contents {
		if existing.CourseID == content.CourseID && existing.Path == content.Path {
			return nil, trace.AlreadyExists("content path %q already exists in course", content.Path)
		}
	}
	out := *content
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.contents[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourseContent(ctx context.Context, id string) (*types.CourseContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return nil, trace.NotFound("course content %s not found", id)
	}
	return &c, nil
}

func (m *Memory) ListCourseContents(ctx context.Context, courseID string) ([]types.CourseContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CourseContent
	for _, c := range m.contents {
		if c.CourseID == courseID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) ListCourseContentDescendants(ctx context.Context, courseID string, path types.Path) ([]types.CourseContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CourseContent
	for _, c := range m.contents {
		if c.CourseID == courseID && path.IsAncestorOf(c.Path) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) CreateExecutionBackend(ctx context.Context, backend *types.ExecutionBackend) (*types.ExecutionBackend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *backend
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.backends[out.ID] = out
	return &out, nil
}

func (m *Memory) GetExecutionBackend(ctx context.Context, id string) (*types.ExecutionBackend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backends[id]
	if !ok {
		return nil, trace.NotFound("execution backend %s not found", id)
	}
	return &b, nil
}

func (m *Memory) CreateCourseMember(ctx context.Context, member *types.CourseMember) (*types.CourseMember, error) {
	if err := member.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.members {
		if existing.CourseID == member.CourseID && existing.UserID == member.UserID {
			return nil, trace.AlreadyExists("user %s is already a member of course %s", member.UserID, member.CourseID)
		}
	}
	out := *member
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.members[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourseMember(ctx context.Context, id string) (*types.CourseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return nil, trace.NotFound("course member %s not found", id)
	}
	return &member, nil
}

func (m *Memory) GetCourseMemberByUser(ctx context.Context, courseID, userID string) (*types.CourseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.CourseID == courseID && member.UserID == userID {
			out := member
			return &out, nil
		}
	}
	return nil, trace.NotFound("user %s is not a member of course %s", userID, courseID)
}

func (m *Memory) ListCourseMembersByUser(ctx context.Context, userID string) ([]types.CourseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CourseMember
	for _, member := range m.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListCourseMembers(ctx context.Context, filter authz.RowFilter) ([]types.CourseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CourseMember
	for _, member := range m.members {
		res := authz.Resource{
			Kind:          types.KindCourseMember,
			ID:            member.ID,
			CourseID:      member.CourseID,
			SubjectUserID: member.UserID,
		}
		if filter.Matches(&res) {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateCourseMember(ctx context.Context, member *types.CourseMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.ID]; !ok {
		return trace.NotFound("course member %s not found", member.ID)
	}
	out := *member
	out.UpdatedAt = m.clock.Now().UTC()
	m.members[out.ID] = out
	return nil
}

func (m *Memory) CreateCourseGroup(ctx context.Context, group *types.CourseGroup) (*types.CourseGroup, error) {
	if err := group.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *group
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.cgroups[out.ID] = out
	return &out, nil
}

func (m *Memory) GetCourseGroup(ctx context.Context, id string) (*types.CourseGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.cgroups[id]
	if !ok {
		return nil, trace.NotFound("course group %s not found", id)
	}
	return &g, nil
}

// Submissions

func (m *Memory) CreateSubmissionGroup(ctx context.Context, group *types.SubmissionGroup) (*types.SubmissionGroup, error) {
	if err := group.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *group
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.sgroups[out.ID] = out
	return &out, nil
}

func (m *Memory) GetSubmissionGroup(ctx context.Context, id string) (*types.SubmissionGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.sgroups[id]
	if !ok {
		return nil, trace.NotFound("submission group %s not found", id)
	}
	return &g, nil
}

func (m *Memory) ListSubmissionGroupMembers(ctx context.Context, groupID string) ([]types.SubmissionGroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SubmissionGroupMember
	for _, sm := range m.smembers {
		if sm.SubmissionGroupID == groupID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSubmissionGroupUserIDs(ctx context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupUserIDsLocked(groupID), nil
}

func (m *Memory) groupUserIDsLocked(groupID string) []string {
	var out []string
	for _, sm := range m.smembers {
		if sm.SubmissionGroupID != groupID {
			continue
		}
		if member, ok := m.members[sm.CourseMemberID]; ok {
			out = append(out, member.UserID)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Memory) AddSubmissionGroupMember(ctx context.Context, member *types.SubmissionGroupMember) (*types.SubmissionGroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.sgroups[member.SubmissionGroupID]
	if !ok {
		return nil, trace.NotFound("submission group %s not found", member.SubmissionGroupID)
	}
	for _, sm := range m.smembers {
		other, ok := m.sgroups[sm.SubmissionGroupID]
		if !ok {
			continue
		}
		if sm.CourseMemberID == member.CourseMemberID && other.CourseContentID == group.CourseContentID {
			return nil, trace.AlreadyExists("member %s already has a group for this content", member.CourseMemberID)
		}
	}
	out := *member
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.smembers[out.ID] = out
	return &out, nil
}

func (m *Memory) GetSubmissionGroupForMember(ctx context.Context, courseMemberID, courseContentID string) (*types.SubmissionGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sm := range m.smembers {
		if sm.CourseMemberID != courseMemberID {
			continue
		}
		if g, ok := m.sgroups[sm.SubmissionGroupID]; ok && g.CourseContentID == courseContentID {
			out := g
			return &out, nil
		}
	}
	return nil, trace.NotFound("member %s has no submission group for content %s", courseMemberID, courseContentID)
}

func (m *Memory) CreateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) (*types.SubmissionArtifact, error) {
	if err := artifact.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *artifact
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.artifacts[out.ID] = out
	return &out, nil
}

func (m *Memory) GetSubmissionArtifact(ctx context.Context, id string) (*types.SubmissionArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, trace.NotFound("submission artifact %s not found", id)
	}
	return &a, nil
}

func (m *Memory) GetLatestSubmissionArtifact(ctx context.Context, groupID string) (*types.SubmissionArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *types.SubmissionArtifact
	for _, a := range m.artifacts {
		if a.SubmissionGroupID != groupID {
			continue
		}
		a := a
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	if latest == nil {
		return nil, trace.NotFound("group %s has no submission artifacts", groupID)
	}
	return latest, nil
}

func (m *Memory) GetSubmissionArtifactByVersion(ctx context.Context, groupID, versionIdentifier string) (*types.SubmissionArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.SubmissionGroupID == groupID && a.VersionIdentifier == versionIdentifier {
			out := a
			return &out, nil
		}
	}
	return nil, trace.NotFound("group %s has no artifact with version %q", groupID, versionIdentifier)
}

func (m *Memory) CountSubmissionArtifacts(ctx context.Context, groupID string, submitOnly bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.artifacts {
		if a.SubmissionGroupID != groupID {
			continue
		}
		if submitOnly && !a.Submit {
			continue
		}
		count++
	}
	return count, nil
}

func (m *Memory) UpdateSubmissionArtifact(ctx context.Context, artifact *types.SubmissionArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.artifacts[artifact.ID]
	if !ok {
		return trace.NotFound("submission artifact %s not found", artifact.ID)
	}
	// only the Submit flag and Properties are mutable
	prev.Submit = artifact.Submit
	prev.Properties = artifact.Properties
	m.artifacts[prev.ID] = prev
	return nil
}

func (m *Memory) CreateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) (*types.SubmissionGrade, error) {
	if err := grade.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *grade
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.grades[out.ID] = out
	return &out, nil
}

func (m *Memory) GetSubmissionGrade(ctx context.Context, id string) (*types.SubmissionGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grade, ok := m.grades[id]
	if !ok {
		return nil, trace.NotFound("submission grade %s not found", id)
	}
	out := grade
	return &out, nil
}

func (m *Memory) UpdateSubmissionGrade(ctx context.Context, grade *types.SubmissionGrade) error {
	if err := grade.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.grades[grade.ID]
	if !ok {
		return trace.NotFound("submission grade %s not found", grade.ID)
	}
	prev.Grade = grade.Grade
	prev.Status = grade.Status
	prev.Comment = grade.Comment
	m.grades[prev.ID] = prev
	return nil
}

func (m *Memory) ListSubmissionGrades(ctx context.Context, artifactID string) ([]types.SubmissionGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SubmissionGrade
	for _, g := range m.grades {
		if g.SubmissionArtifactID == artifactID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Results

func (m *Memory) CreateResult(ctx context.Context, result *types.Result) (*types.Result, error) {
	if err := result.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.CourseMemberID == result.CourseMemberID &&
			r.CourseContentID == result.CourseContentID &&
			r.VersionIdentifier == result.VersionIdentifier &&
			r.Status != types.ResultFailed &&
			r.Status != types.ResultCancelled &&
			r.Status != types.ResultCrashed {
			return nil, trace.AlreadyExists("an active result for this version already exists")
		}
	}
	out := *result
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.results[out.ID] = out
	return &out, nil
}

func (m *Memory) GetResult(ctx context.Context, id string) (*types.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, trace.NotFound("result %s not found", id)
	}
	return &r, nil
}

func (m *Memory) ListResultsForArtifact(ctx context.Context, artifactID, courseMemberID string) ([]types.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Result
	for _, r := range m.results {
		if r.SubmissionArtifactID == artifactID && r.CourseMemberID == courseMemberID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindResultByVersion(ctx context.Context, courseMemberID, courseContentID, versionIdentifier string) ([]types.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Result
	for _, r := range m.results {
		if r.CourseMemberID == courseMemberID &&
			r.CourseContentID == courseContentID &&
			r.VersionIdentifier == versionIdentifier {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountResultsForArtifact(ctx context.Context, artifactID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.results {
		if r.SubmissionArtifactID == artifactID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) UpdateResult(ctx context.Context, result *types.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[result.ID]; !ok {
		return trace.NotFound("result %s not found", result.ID)
	}
	out := *result
	out.UpdatedAt = m.clock.Now().UTC()
	m.results[out.ID] = out
	return nil
}

func (m *Memory) ListResults(ctx context.Context, filter authz.RowFilter) ([]types.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Result
	for _, r := range m.results {
		res := m.resultResourceLocked(&r)
		if filter.Matches(res) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) resultResourceLocked(r *types.Result) *authz.Resource {
	res := &authz.Resource{
		Kind:           types.KindResult,
		ID:             r.ID,
		CourseMemberID: r.CourseMemberID,
	}
	if member, ok := m.members[r.CourseMemberID]; ok {
		res.MemberUserID = member.UserID
		res.CourseID = member.CourseID
	}
	if content, ok := m.contents[r.CourseContentID]; ok {
		res.CourseID = content.CourseID
	}
	if a, ok := m.artifacts[r.SubmissionArtifactID]; ok {
		res.SubmissionGroupID = a.SubmissionGroupID
		res.GroupUserIDs = m.groupUserIDsLocked(a.SubmissionGroupID)
	}
	return res
}

// Deployments

func (m *Memory) GetDeploymentByContent(ctx context.Context, courseContentID string) (*types.CourseContentDeployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deployments {
		if d.CourseContentID == courseContentID {
			out := d
			return &out, nil
		}
	}
	return nil, trace.NotFound("content %s has no deployment", courseContentID)
}

func (m *Memory) CreateDeployment(ctx context.Context, d *types.CourseContentDeployment) (*types.CourseContentDeployment, error) {
	if err := d.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deployments {
		if existing.CourseContentID == d.CourseContentID {
			return nil, trace.AlreadyExists("content %s already has a deployment", d.CourseContentID)
		}
	}
	out := *d
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.deployments[out.ID] = out
	return &out, nil
}

func (m *Memory) UpdateDeployment(ctx context.Context, d *types.CourseContentDeployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[d.ID]; !ok {
		return trace.NotFound("deployment %s not found", d.ID)
	}
	out := *d
	out.UpdatedAt = m.clock.Now().UTC()
	m.deployments[out.ID] = out
	return nil
}

func (m *Memory) AppendDeploymentHistory(ctx context.Context, entry *types.DeploymentHistory) (*types.DeploymentHistory, error) {
	if err := entry.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *entry
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.history[out.DeploymentID] = append(m.history[out.DeploymentID], out)
	return &out, nil
}

func (m *Memory) ListDeploymentHistory(ctx context.Context, deploymentID string) ([]types.DeploymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.DeploymentHistory{}, m.history[deploymentID]...), nil
}

func (m *Memory) CreateExample(ctx context.Context, example *types.Example) (*types.Example, error) {
	if err := example.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.examples {
		if e.ExampleRepositoryID == example.ExampleRepositoryID && e.Identifier == example.Identifier {
			return nil, trace.AlreadyExists("example %q already exists", example.Identifier)
		}
	}
	out := *example
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.examples[out.ID] = out
	return &out, nil
}

func (m *Memory) GetExample(ctx context.Context, id string) (*types.Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.examples[id]
	if !ok {
		return nil, trace.NotFound("example %s not found", id)
	}
	return &e, nil
}

func (m *Memory) GetExampleByIdentifier(ctx context.Context, identifier types.Path) (*types.Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.examples {
		if e.Identifier == identifier {
			out := e
			return &out, nil
		}
	}
	return nil, trace.NotFound("example %q not found", identifier)
}

func (m *Memory) CreateExampleVersion(ctx context.Context, version *types.ExampleVersion) (*types.ExampleVersion, error) {
	if err := version.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ExampleID == version.ExampleID && v.VersionTag == version.VersionTag {
			return nil, trace.AlreadyExists("version %q already exists for example", version.VersionTag)
		}
	}
	out := *version
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	m.versions[out.ID] = out
	return &out, nil
}

func (m *Memory) GetExampleVersion(ctx context.Context, id string) (*types.ExampleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, trace.NotFound("example version %s not found", id)
	}
	return &v, nil
}

func (m *Memory) GetExampleVersionByTag(ctx context.Context, exampleID, versionTag string) (*types.ExampleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ExampleID == exampleID && v.VersionTag == versionTag {
			out := v
			return &out, nil
		}
	}
	return nil, trace.NotFound("example %s has no version %q", exampleID, versionTag)
}

func (m *Memory) ListExamplesByIdentifiers(ctx context.Context, identifiers []types.Path) (map[types.Path]types.Example, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[types.Path]struct{}, len(identifiers))
	for _, id := range identifiers {
		want[id] = struct{}{}
	}
	out := make(map[types.Path]types.Example)
	for _, e := range m.examples {
		if _, ok := want[e.Identifier]; ok {
			out[e.Identifier] = e
		}
	}
	return out, nil
}

func (m *Memory) ListExampleVersions(ctx context.Context, exampleID string) ([]types.ExampleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ExampleVersion
	for _, v := range m.versions {
		if v.ExampleID == exampleID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Messages

func (m *Memory) CreateMessage(ctx context.Context, message *types.Message) (*types.Message, error) {
	if err := message.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *message
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = m.clock.Now().UTC()
	out.UpdatedAt = out.CreatedAt
	m.messages[out.ID] = out
	return &out, nil
}

func (m *Memory) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, trace.NotFound("message %s not found", id)
	}
	return &msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, filter authz.RowFilter) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.messages {
		res := m.messageResourceLocked(&msg)
		if filter.Matches(res) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) messageResourceLocked(msg *types.Message) *authz.Resource {
	res := &authz.Resource{
		Kind:         types.KindMessage,
		ID:           msg.ID,
		AuthorUserID: msg.AuthorUserID,
	}
	if msg.CourseID != nil {
		res.CourseID = *msg.CourseID
	}
	if msg.UserID != nil {
		res.SubjectUserID = *msg.UserID
	}
	if msg.CourseMemberID != nil {
		res.CourseMemberID = *msg.CourseMemberID
		if member, ok := m.members[*msg.CourseMemberID]; ok {
			res.MemberUserID = member.UserID
		}
	}
	if msg.SubmissionGroupID != nil {
		res.SubmissionGroupID = *msg.SubmissionGroupID
		res.GroupUserIDs = m.groupUserIDsLocked(*msg.SubmissionGroupID)
	}
	if msg.CourseGroupID != nil {
		res.CourseGroupID = *msg.CourseGroupID
	}
	return res
}

func (m *Memory) UpdateMessage(ctx context.Context, message *types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.messages[message.ID]
	if !ok {
		return trace.NotFound("message %s not found", message.ID)
	}
	prev.Title = message.Title
	prev.Content = message.Content
	prev.UpdatedAt = m.clock.Now().UTC()
	m.messages[prev.ID] = prev
	return nil
}

func (m *Memory) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return trace.NotFound("message %s not found", id)
	}
	delete(m.messages, id)
	delete(m.reads, id)
	return nil
}

func (m *Memory) MarkMessageRead(ctx context.Context, messageID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return false, trace.NotFound("message %s not found", messageID)
	}
	byUser := m.reads[messageID]
	if byUser == nil {
		byUser = make(map[string]time.Time)
		m.reads[messageID] = byUser
	}
	if _, ok := byUser[userID]; ok {
		return false, nil
	}
	byUser[userID] = m.clock.Now().UTC()
	return true, nil
}

func (m *Memory) MarkMessageUnread(ctx context.Context, messageID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := m.reads[messageID]
	if _, ok := byUser[userID]; !ok {
		return false, nil
	}
	delete(byUser, userID)
	return true, nil
}

func (m *Memory) CountUnreadMessages(ctx context.Context, userID string, filter authz.RowFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		res := m.messageResourceLocked(&msg)
		if !filter.Matches(res) {
			continue
		}
		if _, read := m.reads[msg.ID][userID]; !read {
			count++
		}
	}
	return count, nil
}

var _ Services = (*Memory)(nil)
