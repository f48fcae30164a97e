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

package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/auth"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/blob"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/deploy"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/eventbus"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/messaging"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/session"
	"github.com/codebench/codebench/lib/submissions"
	"github.com/codebench/codebench/lib/taskexec"
	"github.com/codebench/codebench/lib/testruns"
	"github.com/codebench/codebench/lib/views"
)

const testPassword = "correct horse battery staple"

type webPack struct {
	srv      *httptest.Server
	store    *services.Memory
	clock    *clockwork.FakeClock
	executor *taskexec.FakeExecutor
	events   *eventbus.Manager
	redis    *miniredis.Miniredis

	course       *types.Course
	content      *types.CourseContent
	spareContent *types.CourseContent
	group        *types.SubmissionGroup

	student       *types.User
	studentMember *types.CourseMember
	lecturer      *types.User

	studentToken  string
	lecturerToken string
}

func newWebPack(t *testing.T) *webPack {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)
	executor := taskexec.NewFakeExecutor()
	registry := authz.NewRegistry()

	sessions, err := session.NewStore(session.Config{
		Redis: client, Identity: store, Clock: clock,
	})
	require.NoError(t, err)
	// sub-tick cache TTL: revocations must be visible immediately
	authn, err := auth.NewAuthenticator(auth.Config{
		Identity: store, Courses: store, Sessions: sessions,
		CacheTTL: 100 * time.Nanosecond, Clock: clock,
	})
	require.NoError(t, err)

	viewCache, err := cache.NewViewCache(cache.ViewCacheConfig{})
	require.NoError(t, err)
	redisCache := cache.NewRedisCache(client)
	invalidator := cache.NewInvalidator(viewCache, redisCache)

	assembler, err := views.NewAssembler(views.Config{
		Services: store, Views: viewCache, Redis: redisCache, Clock: clock,
	})
	require.NoError(t, err)
	subs, err := submissions.NewService(submissions.Config{
		Services: store, Blob: blob.NewMemoryStore(), Invalidator: invalidator, Clock: clock,
	})
	require.NoError(t, err)
	sched, err := testruns.NewScheduler(testruns.Config{
		Services: store, Executor: executor, Invalidator: invalidator, Clock: clock,
	})
	require.NoError(t, err)
	engine, err := deploy.NewEngine(deploy.Config{
		Services: store, Executor: executor, Invalidator: invalidator, Clock: clock,
	})
	require.NoError(t, err)
	msgs, err := messaging.NewService(messaging.Config{
		Services: store, Registry: registry, Invalidator: invalidator, Clock: clock,
	})
	require.NoError(t, err)
	events, err := eventbus.NewManager(eventbus.Config{
		Redis: client, Services: store, Registry: registry, Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	handler, err := NewHandler(Config{
		Auth:        authn,
		Sessions:    sessions,
		Services:    store,
		Views:       assembler,
		Submissions: subs,
		TestRuns:    sched,
		Deployments: engine,
		Messages:    msgs,
		Events:      events,
		Registry:    registry,
		Clock:       clock,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := &webPack{
		srv: srv, store: store, clock: clock, executor: executor,
		events: events, redis: mr,
	}
	p.seed(t, ctx)
	p.studentToken = p.login(t, "stu")
	p.lecturerToken = p.login(t, "lecturer")
	return p
}

func (p *webPack) seed(t *testing.T, ctx context.Context) {
	t.Helper()
	store := p.store

	org, err := store.CreateOrganization(ctx, &types.Organization{Title: "Uni", Path: "uni"})
	require.NoError(t, err)
	family, err := store.CreateCourseFamily(ctx, &types.CourseFamily{
		OrganizationID: org.ID, Title: "Prog", Path: "uni.prog",
	})
	require.NoError(t, err)
	course, err := store.CreateCourse(ctx, &types.Course{
		CourseFamilyID: family.ID, Title: "Prog WS25", Path: "uni.prog.ws25",
	})
	require.NoError(t, err)
	backend, err := store.CreateExecutionBackend(ctx, &types.ExecutionBackend{
		Slug: "python-tester", Type: "temporal",
		Properties: map[string]any{"task_queue": "student-testing"},
	})
	require.NoError(t, err)
	contentType, err := store.CreateCourseContentType(ctx, &types.CourseContentType{
		CourseID: course.ID, Slug: "assignment", Title: "Assignment", Kind: types.ContentKindAssignment,
	})
	require.NoError(t, err)
	content, err := store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            course.ID,
		CourseContentTypeID: contentType.ID,
		Title:               "Sheet 1",
		Path:                "sheet1",
		ExecutionBackendID:  &backend.ID,
	})
	require.NoError(t, err)
	spare, err := store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            course.ID,
		CourseContentTypeID: contentType.ID,
		Title:               "Sheet 2",
		Path:                "sheet2",
		ExecutionBackendID:  &backend.ID,
	})
	require.NoError(t, err)

	// sheet1 is deployed and testable from the start
	versionID := "seed-version"
	path := "deployed/uni.prog.ws25/" + content.ID
	commit := "seed-commit"
	_, err = store.CreateDeployment(ctx, &types.CourseContentDeployment{
		CourseContentID:   content.ID,
		ExampleVersionID:  &versionID,
		ExampleIdentifier: "examples.python.sheet1",
		VersionTag:        "1.0.0",
		Status:            types.DeploymentDeployed,
		DeploymentPath:    &path,
		VersionIdentifier: &commit,
	})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	student, err := store.CreateUser(ctx, &types.User{Username: "stu", PasswordHash: hash})
	require.NoError(t, err)
	require.NoError(t, store.AddUserRole(ctx, student.ID, types.RoleUser))
	member, err := store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: course.ID, UserID: student.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)
	group, err := store.CreateSubmissionGroup(ctx, &types.SubmissionGroup{
		CourseID: course.ID, CourseContentID: content.ID, MaxGroupSize: 1,
	})
	require.NoError(t, err)
	_, err = store.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: group.ID, CourseMemberID: member.ID,
	})
	require.NoError(t, err)

	lecturer, err := store.CreateUser(ctx, &types.User{Username: "lecturer", PasswordHash: hash})
	require.NoError(t, err)
	require.NoError(t, store.AddUserRole(ctx, lecturer.ID, types.RoleUser))
	_, err = store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: course.ID, UserID: lecturer.ID, CourseRole: types.CourseRoleLecturer,
	})
	require.NoError(t, err)

	p.course = course
	p.content = content
	p.spareContent = spare
	p.group = group
	p.student = student
	p.studentMember = member
	p.lecturer = lecturer
}

func (p *webPack) login(t *testing.T, username string) string {
	t.Helper()
	resp, body := p.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": username, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(body, &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens.AccessToken
}

func (p *webPack) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, p.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func decodeEnvelope(t *testing.T, body []byte) httplib.ErrorResponse {
	t.Helper()
	var envelope httplib.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope
}

// zipArchive builds a one-file archive in memory.
func zipArchive(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func (p *webPack) upload(t *testing.T, token, groupID, filename string, data []byte, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, p.srv.URL+"/submissions/"+groupID+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func TestLoginIssuesTokens(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "stu", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(body, &tokens))
	require.Equal(t, "Bearer", tokens.TokenType)
	require.Equal(t, p.student.ID, tokens.UserID)
	require.Positive(t, tokens.ExpiresIn)
	require.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)

	resp, body = p.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "stu", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errcode.AuthInvalidCredentials, decodeEnvelope(t, body).ErrorCode)
}

func TestRequestsRequireBearer(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.do(t, http.MethodGet, "/messages", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, errcode.AuthUnknownToken, decodeEnvelope(t, body).ErrorCode)

	resp, _ = p.do(t, http.MethodGet, "/messages", "no-such-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRotatesAccessOnly(t *testing.T) {
	p := newWebPack(t)

	_, body := p.do(t, http.MethodPost, "/auth/login", "",
		map[string]string{"username": "stu", "password": testPassword})
	var first tokenResponse
	require.NoError(t, json.Unmarshal(body, &first))

	resp, body := p.do(t, http.MethodPost, "/auth/refresh", "",
		map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var second tokenResponse
	require.NoError(t, json.Unmarshal(body, &second))
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, first.RefreshToken, second.RefreshToken)

	resp, _ = p.do(t, http.MethodGet, "/messages", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutRevokesAccess(t *testing.T) {
	p := newWebPack(t)
	token := p.login(t, "stu")

	resp, _ := p.do(t, http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = p.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = p.do(t, http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadCreatesArtifact(t *testing.T) {
	p := newWebPack(t)
	archive := zipArchive(t, "main.py", "print('hi')")

	resp, body := p.upload(t, p.studentToken, p.group.ID, "sub.zip", archive,
		map[string]string{"version_identifier": "abc123", "submit": "true"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out uploadResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.ArtifactIDs, 1)
	require.Equal(t, 1, out.FilesCount)
	require.Equal(t, int64(len(archive)), out.TotalSize)
	require.Equal(t, "abc123", out.VersionIdentifier)

	artifact, err := p.store.GetSubmissionArtifact(context.Background(), out.ArtifactIDs[0])
	require.NoError(t, err)
	require.True(t, artifact.Submit)
}

func TestUploadRejectsNonZip(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.upload(t, p.studentToken, p.group.ID, "notes.txt", []byte("hello"), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errcode.SubNotZip, decodeEnvelope(t, body).ErrorCode)
}

func TestTestRunLifecycle(t *testing.T) {
	p := newWebPack(t)
	archive := zipArchive(t, "main.py", "print('hi')")
	_, body := p.upload(t, p.studentToken, p.group.ID, "sub.zip", archive,
		map[string]string{"version_identifier": "abc123"})
	var uploaded uploadResponse
	require.NoError(t, json.Unmarshal(body, &uploaded))

	resp, body := p.do(t, http.MethodPost, "/tests", p.studentToken,
		map[string]string{"submission_group_id": p.group.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result types.Result
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, types.ResultScheduled, result.Status)
	require.NotEmpty(t, result.TestSystemID)

	// a second request for the same version is rejected while active
	resp, body = p.do(t, http.MethodPost, "/tests", p.studentToken,
		map[string]string{"artifact_id": uploaded.ArtifactIDs[0]})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errcode.TestAlreadyRunning, decodeEnvelope(t, body).ErrorCode)

	p.executor.Finish(result.TestSystemID, json.RawMessage(`{"passed":7,"failed":0}`))

	resp, body = p.do(t, http.MethodGet, "/tests/status/"+result.ID, p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var status testStatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	require.Equal(t, result.ID, status.ID)
	require.Equal(t, "finished", status.Status)

	resp, body = p.do(t, http.MethodGet, "/results?course_id="+p.course.ID, p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []types.Result
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	require.Equal(t, result.ID, results[0].ID)
}

func TestAssignAndUnassignExample(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	example, err := p.store.CreateExample(ctx, &types.Example{
		ExampleRepositoryID: "repo-1", Identifier: "examples.python.sorting", Title: "Sorting",
	})
	require.NoError(t, err)
	_, err = p.store.CreateExampleVersion(ctx, &types.ExampleVersion{
		ExampleID: example.ID, VersionTag: "1.0.0", VersionIdentifier: "commit-1",
	})
	require.NoError(t, err)

	path := "/course-contents/" + p.spareContent.ID
	resp, body := p.do(t, http.MethodPost, path+"/assign-example", p.lecturerToken,
		map[string]string{"example_identifier": "examples.python.sorting", "version_tag": "1.0.0"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var assigned deploymentResponse
	require.NoError(t, json.Unmarshal(body, &assigned))
	require.Equal(t, types.DeploymentPending, assigned.Deployment.Status)
	require.Len(t, assigned.History, 1)

	// students may not manage deployments
	resp, body = p.do(t, http.MethodPost, path+"/assign-example", p.studentToken,
		map[string]string{"example_identifier": "examples.python.sorting", "version_tag": "1.0.0"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	resp, body = p.do(t, http.MethodGet, path+"/deployment", p.lecturerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched deploymentResponse
	require.NoError(t, json.Unmarshal(body, &fetched))
	require.Equal(t, assigned.Deployment.ID, fetched.Deployment.ID)

	resp, body = p.do(t, http.MethodDelete, path+"/example", p.lecturerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var unassigned map[string]string
	require.NoError(t, json.Unmarshal(body, &unassigned))
	require.Equal(t, "unassigned", unassigned["status"])
}

func TestValidateAssignments(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	example, err := p.store.CreateExample(ctx, &types.Example{
		ExampleRepositoryID: "repo-1", Identifier: "examples.python.sorting", Title: "Sorting",
	})
	require.NoError(t, err)
	_, err = p.store.CreateExampleVersion(ctx, &types.ExampleVersion{
		ExampleID: example.ID, VersionTag: "1.0.0", VersionIdentifier: "commit-1",
	})
	require.NoError(t, err)

	resp, body := p.do(t, http.MethodPost, "/courses/"+p.course.ID+"/validate-assignments", p.lecturerToken,
		map[string]any{"items": []map[string]string{
			{"course_content_id": p.spareContent.ID, "example_identifier": "examples.python.sorting", "version_tag": "1.0"},
			{"course_content_id": p.content.ID, "example_identifier": "examples.missing", "version_tag": "1.0.0"},
		}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Results []deploy.CheckResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 2)
	require.True(t, out.Results[0].ExampleExists)
	require.True(t, out.Results[0].VersionExists)
	require.False(t, out.Results[1].ExampleExists)
}

func TestMessageFlow(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.do(t, http.MethodPost, "/messages", p.lecturerToken,
		map[string]any{"title": "Welcome", "content": "First lecture on Monday.", "course_id": p.course.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var created types.Message
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, p.lecturer.ID, created.AuthorUserID)

	resp, body = p.do(t, http.MethodGet, "/messages?course_id="+p.course.ID, p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []types.Message
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)

	resp, body = p.do(t, http.MethodGet, "/notifications/unread-count", p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var count map[string]int
	require.NoError(t, json.Unmarshal(body, &count))
	require.Equal(t, 1, count["unread_count"])

	resp, _ = p.do(t, http.MethodPost, "/messages/"+created.ID+"/read", p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = p.do(t, http.MethodGet, "/notifications/unread-count", p.studentToken, nil)
	require.NoError(t, json.Unmarshal(body, &count))
	require.Zero(t, count["unread_count"])

	// only the author may edit
	resp, body = p.do(t, http.MethodPatch, "/messages/"+created.ID, p.studentToken,
		map[string]string{"content": "hijacked"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))
}

func TestStudentCourseView(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.do(t, http.MethodGet, "/courses/"+p.course.ID+"/student-view", p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var view views.StudentCourseView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Equal(t, p.course.ID, view.CourseID)
}

func TestWorkspaceProvisionRequiresPermission(t *testing.T) {
	p := newWebPack(t)
	ctx := context.Background()

	resp, body := p.do(t, http.MethodPost, "/coder/workspaces/provision", p.studentToken,
		map[string]string{"template": "python-3.12"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	require.NoError(t, p.store.SetRoleClaims(ctx, types.RoleUser, []types.RoleClaim{
		{Resource: "workspace", Action: "provision"},
	}))

	resp, body = p.do(t, http.MethodPost, "/coder/workspaces/provision", p.studentToken,
		map[string]string{"template": "python-3.12"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var ws Workspace
	require.NoError(t, json.Unmarshal(body, &ws))
	require.NotEmpty(t, ws.WorkspaceID)
	require.Equal(t, "pending", ws.Status)
}

func TestPresence(t *testing.T) {
	p := newWebPack(t)

	resp, body := p.do(t, http.MethodGet, "/users/"+p.student.ID+"/presence", p.studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var status map[string]any
	require.NoError(t, json.Unmarshal(body, &status))
	require.Equal(t, false, status["online"])

	require.NoError(t, p.redis.Set("presence:"+p.student.ID, "online"))
	_, body = p.do(t, http.MethodGet, "/users/"+p.student.ID+"/presence", p.studentToken, nil)
	require.NoError(t, json.Unmarshal(body, &status))
	require.Equal(t, true, status["online"])
}

func TestHealthz(t *testing.T) {
	p := newWebPack(t)

	resp, _ := p.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthzReportsBackendFailure(t *testing.T) {
	p := newWebPack(t)
	// rebuild a handler with a failing dependency
	handler := p.srv.Config.Handler.(*Handler)
	handler.cfg.Pingers = []Pinger{failingPinger{}}

	resp, body := p.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, errcode.DBUnavailable, decodeEnvelope(t, body).ErrorCode)
}
