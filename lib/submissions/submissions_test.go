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

package submissions

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/blob"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type subPack struct {
	svc   *Service
	store *services.Memory
	blob  *blob.MemoryStore
	views *cache.ViewCache
	clock *clockwork.FakeClock

	course  *types.Course
	content *types.CourseContent
	student *types.User
	member  *types.CourseMember
	group   *types.SubmissionGroup
}

func newSubPack(t *testing.T) *subPack {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)
	blobStore := blob.NewMemoryStore()
	views, err := cache.NewViewCache(cache.ViewCacheConfig{})
	require.NoError(t, err)

	svc, err := NewService(Config{
		Services:      store,
		Blob:          blobStore,
		Invalidator:   cache.NewInvalidator(views, nil),
		MaxUploadSize: 1 << 20,
		Clock:         clock,
	})
	require.NoError(t, err)

	org, err := store.CreateOrganization(ctx, &types.Organization{Title: "Uni", Path: "uni"})
	require.NoError(t, err)
	family, err := store.CreateCourseFamily(ctx, &types.CourseFamily{OrganizationID: org.ID, Title: "Prog", Path: "uni.prog"})
	require.NoError(t, err)
	course, err := store.CreateCourse(ctx, &types.Course{CourseFamilyID: family.ID, Title: "Prog WS25", Path: "uni.prog.ws25"})
	require.NoError(t, err)
	contentType, err := store.CreateCourseContentType(ctx, &types.CourseContentType{
		CourseID: course.ID, Slug: "assignment", Title: "Assignment", Kind: types.ContentKindAssignment,
	})
	require.NoError(t, err)
	backend, err := store.CreateExecutionBackend(ctx, &types.ExecutionBackend{
		Slug: "python-tester", Type: "temporal",
	})
	require.NoError(t, err)
	content, err := store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            course.ID,
		CourseContentTypeID: contentType.ID,
		Title:               "Sheet 1",
		Path:                "sheet1",
		ExecutionBackendID:  &backend.ID,
		MaxGroupSize:        2,
	})
	require.NoError(t, err)

	student, err := store.CreateUser(ctx, &types.User{Username: "stu"})
	require.NoError(t, err)
	member, err := store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: course.ID, UserID: student.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)
	group, err := store.CreateSubmissionGroup(ctx, &types.SubmissionGroup{
		CourseID: course.ID, CourseContentID: content.ID, MaxGroupSize: 2,
	})
	require.NoError(t, err)
	_, err = store.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: group.ID, CourseMemberID: member.ID,
	})
	require.NoError(t, err)

	return &subPack{
		svc: svc, store: store, blob: blobStore, views: views, clock: clock,
		course: course, content: content, student: student, member: member, group: group,
	}
}

func (p *subPack) principal(userID, memberID string, role types.CourseRole) *authz.Principal {
	principal := &authz.Principal{UserID: userID, Claims: authz.NewClaims()}
	if memberID != "" {
		principal.Memberships = []authz.Membership{{
			CourseMemberID: memberID, CourseID: p.course.ID, Role: role,
		}}
		principal.Claims.AddDependent(types.KindCourse, p.course.ID, role)
	}
	return principal
}

func TestUploadStoresArchive(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	principal := p.principal(p.student.ID, p.member.ID, types.CourseRoleStudent)

	data := zipArchive(t, map[string]string{"main.py": "print('hi')"})
	artifact, err := p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: p.group.ID,
		Filename:          "sub.zip",
		ContentType:       "application/zip",
		Data:              data,
		VersionIdentifier: "abc123",
		Submit:            true,
	})
	require.NoError(t, err)
	require.Equal(t, p.group.ID, artifact.Bucket)
	require.Equal(t, "abc123", artifact.VersionIdentifier)
	require.Equal(t, int64(len(data)), artifact.Size)
	require.Contains(t, artifact.ObjectKey, "submission-")
	require.Contains(t, artifact.ObjectKey, "/sub.zip")

	stored, err := p.blob.Get(ctx, artifact.Bucket, artifact.ObjectKey)
	require.NoError(t, err)
	require.Equal(t, data, stored)
}

func TestUploadValidation(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	principal := p.principal(p.student.ID, p.member.ID, types.CourseRoleStudent)

	upload := func(filename string, data []byte) error {
		_, err := p.svc.Upload(ctx, principal, UploadRequest{
			SubmissionGroupID: p.group.ID,
			Filename:          filename,
			Data:              data,
		})
		return err
	}

	tests := []struct {
		name     string
		filename string
		data     []byte
		want     errcode.Code
	}{
		{"not a zip name", "sub.tar.gz", zipArchive(t, map[string]string{"a": "x"}), errcode.SubNotZip},
		{"garbage bytes", "sub.zip", []byte("not a zip"), errcode.SubNotZip},
		{"empty archive", "sub.zip", zipArchive(t, nil), errcode.SubEmptyArchive},
		{"only empty files", "sub.zip", zipArchive(t, map[string]string{"a.txt": ""}), errcode.SubEmptyArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := upload(tt.filename, tt.data)
			code, ok := errcode.CodeOf(err)
			require.True(t, ok)
			require.Equal(t, tt.want, code)
		})
	}
}

func TestUploadQuota(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	data := zipArchive(t, map[string]string{"main.py": "x"})

	one := 1
	content, err := p.store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            p.course.ID,
		CourseContentTypeID: p.content.CourseContentTypeID,
		Title:               "Sheet 2",
		Path:                "sheet2",
		ExecutionBackendID:  p.content.ExecutionBackendID,
		MaxSubmissions:      &one,
	})
	require.NoError(t, err)
	group, err := p.store.CreateSubmissionGroup(ctx, &types.SubmissionGroup{
		CourseID: p.course.ID, CourseContentID: content.ID, MaxGroupSize: 2, MaxSubmissions: &one,
	})
	require.NoError(t, err)
	_, err = p.store.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: group.ID, CourseMemberID: p.member.ID,
	})
	require.NoError(t, err)
	principal := p.principal(p.student.ID, p.member.ID, types.CourseRoleStudent)

	_, err = p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: group.ID, Filename: "a.zip", Data: data, Submit: true,
	})
	require.NoError(t, err)

	_, err = p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: group.ID, Filename: "b.zip", Data: data, Submit: true,
	})
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.SubQuotaReached, code)

	// practice uploads stay unlimited
	_, err = p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: group.ID, Filename: "c.zip", Data: data, Submit: false,
	})
	require.NoError(t, err)
}

func TestUploadRequiresGroupMembership(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	data := zipArchive(t, map[string]string{"main.py": "x"})

	other, err := p.store.CreateUser(ctx, &types.User{Username: "other"})
	require.NoError(t, err)
	otherMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: other.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)

	_, err = p.svc.Upload(ctx, p.principal(other.ID, otherMember.ID, types.CourseRoleStudent), UploadRequest{
		SubmissionGroupID: p.group.ID, Filename: "a.zip", Data: data,
	})
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.PermNotGroupMember, code)

	// a tutor is elevated past group membership
	tutor, err := p.store.CreateUser(ctx, &types.User{Username: "tutor"})
	require.NoError(t, err)
	tutorMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: tutor.ID, CourseRole: types.CourseRoleTutor,
	})
	require.NoError(t, err)
	_, err = p.svc.Upload(ctx, p.principal(tutor.ID, tutorMember.ID, types.CourseRoleTutor), UploadRequest{
		SubmissionGroupID: p.group.ID, Filename: "a.zip", Data: data,
	})
	require.NoError(t, err)
}

func TestUploadInvalidatesViews(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	principal := p.principal(p.student.ID, p.member.ID, types.CourseRoleStudent)

	p.views.Set("student-page", "stale",
		cache.UserTag(p.student.ID),
		cache.NewTag(types.KindSubmissionGroup, p.group.ID),
	)
	_, err := p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: p.group.ID,
		Filename:          "sub.zip",
		Data:              zipArchive(t, map[string]string{"main.py": "x"}),
	})
	require.NoError(t, err)

	_, ok := p.views.Get("student-page")
	require.False(t, ok)
}

func TestCreateAndJoinGroup(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()

	alice, err := p.store.CreateUser(ctx, &types.User{Username: "alice2"})
	require.NoError(t, err)
	aliceMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: alice.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)
	bob, err := p.store.CreateUser(ctx, &types.User{Username: "bob2"})
	require.NoError(t, err)
	bobMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: bob.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)

	alicePrincipal := p.principal(alice.ID, aliceMember.ID, types.CourseRoleStudent)
	group, err := p.svc.CreateGroup(ctx, alicePrincipal, p.content.ID, true)
	require.NoError(t, err)
	require.NotNil(t, group.JoinCode)

	// one group per member and content
	_, err = p.svc.CreateGroup(ctx, alicePrincipal, p.content.ID, false)
	require.True(t, trace.IsAlreadyExists(err))

	bobPrincipal := p.principal(bob.ID, bobMember.ID, types.CourseRoleStudent)
	_, err = p.svc.JoinGroup(ctx, bobPrincipal, group.ID, "wrong-code")
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.SubInvalidJoinCode, code)

	_, err = p.svc.JoinGroup(ctx, bobPrincipal, group.ID, *group.JoinCode)
	require.NoError(t, err)

	// the group is now at MaxGroupSize
	carol, err := p.store.CreateUser(ctx, &types.User{Username: "carol2"})
	require.NoError(t, err)
	carolMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: carol.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)
	_, err = p.svc.JoinGroup(ctx, p.principal(carol.ID, carolMember.ID, types.CourseRoleStudent), group.ID, *group.JoinCode)
	code, ok = errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.SubGroupFull, code)
}

func TestUpdateArtifactUploaderOnly(t *testing.T) {
	p := newSubPack(t)
	ctx := context.Background()
	principal := p.principal(p.student.ID, p.member.ID, types.CourseRoleStudent)

	artifact, err := p.svc.Upload(ctx, principal, UploadRequest{
		SubmissionGroupID: p.group.ID,
		Filename:          "sub.zip",
		Data:              zipArchive(t, map[string]string{"main.py": "x"}),
	})
	require.NoError(t, err)

	submit := true
	updated, err := p.svc.UpdateArtifact(ctx, principal, artifact.ID, &submit, map[string]any{"note": "final"})
	require.NoError(t, err)
	require.True(t, updated.Submit)

	other, err := p.store.CreateUser(ctx, &types.User{Username: "other3"})
	require.NoError(t, err)
	otherMember, err := p.store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: p.course.ID, UserID: other.ID, CourseRole: types.CourseRoleStudent,
	})
	require.NoError(t, err)
	_, err = p.svc.UpdateArtifact(ctx, p.principal(other.ID, otherMember.ID, types.CourseRoleStudent), artifact.ID, &submit, nil)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.PermAuthorOnly, code)
}
