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

package views

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

type viewPack struct {
	assembler *Assembler
	store     *services.Memory
	views     *cache.ViewCache
	clock     *clockwork.FakeClock

	course  *types.Course
	content *types.CourseContent
	student *types.User
	member  *types.CourseMember
	group   *types.SubmissionGroup
}

func newViewPack(t *testing.T) *viewPack {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)

	viewCache, err := cache.NewViewCache(cache.ViewCacheConfig{})
	require.NoError(t, err)
	assembler, err := NewAssembler(Config{
		Services: store,
		Views:    viewCache,
		TTL:      5 * time.Minute,
		Clock:    clock,
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
	content, err := store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            course.ID,
		CourseContentTypeID: contentType.ID,
		Title:               "Sheet 1",
		Path:                "sheet1",
	})
	require.NoError(t, err)

	student, err := store.CreateUser(ctx, &types.User{Username: "stu"})
	require.NoError(t, err)
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

	return &viewPack{
		assembler: assembler, store: store, views: viewCache, clock: clock,
		course: course, content: content, student: student, member: member, group: group,
	}
}

func (p *viewPack) principal(role types.CourseRole) *authz.Principal {
	principal := &authz.Principal{
		UserID:   p.student.ID,
		Username: p.student.Username,
		Claims:   authz.NewClaims(),
		Memberships: []authz.Membership{{
			CourseMemberID: p.member.ID,
			CourseID:       p.course.ID,
			Role:           role,
		}},
	}
	principal.Claims.AddDependent(types.KindCourse, p.course.ID, role)
	return principal
}

func (p *viewPack) upload(t *testing.T, version string) *types.SubmissionArtifact {
	t.Helper()
	artifact, err := p.store.CreateSubmissionArtifact(context.Background(), &types.SubmissionArtifact{
		SubmissionGroupID:      p.group.ID,
		UploaderCourseMemberID: p.member.ID,
		Bucket:                 p.group.ID,
		ObjectKey:              "submission-x/" + version + ".zip",
		Filename:               version + ".zip",
		Size:                   128,
		VersionIdentifier:      version,
		Submit:                 true,
	})
	require.NoError(t, err)
	return artifact
}

func TestStudentCourseViewAggregates(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()
	principal := p.principal(types.CourseRoleStudent)

	artifact := p.upload(t, "abc123")
	_, err := p.store.CreateResult(ctx, &types.Result{
		SubmissionArtifactID: artifact.ID,
		CourseMemberID:       p.member.ID,
		CourseContentID:      p.content.ID,
		TestSystemID:         "student-testing-1",
		Status:               types.ResultFinished,
		VersionIdentifier:    "abc123",
	})
	require.NoError(t, err)

	view, err := p.assembler.StudentCourseView(ctx, principal, p.course.ID)
	require.NoError(t, err)
	require.Equal(t, types.CourseRoleStudent, view.Role)
	require.Len(t, view.Contents, 1)
	item := view.Contents[0]
	require.Equal(t, p.group.ID, item.SubmissionGroupID)
	require.Equal(t, artifact.ID, item.LatestArtifact.ID)
	require.Equal(t, types.ResultFinished, item.LatestResult.Status)
	require.Nil(t, item.LatestGrade)
}

func TestStudentCourseViewCached(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()
	principal := p.principal(types.CourseRoleStudent)

	first, err := p.assembler.StudentCourseView(ctx, principal, p.course.ID)
	require.NoError(t, err)

	// an upload without invalidation stays invisible
	p.upload(t, "def456")
	cached, err := p.assembler.StudentCourseView(ctx, principal, p.course.ID)
	require.NoError(t, err)
	require.Same(t, first, cached)
	require.Nil(t, cached.Contents[0].LatestArtifact)
}

func TestGradeBecomesVisibleAfterInvalidation(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()
	principal := p.principal(types.CourseRoleStudent)

	artifact := p.upload(t, "abc123")
	before, err := p.assembler.StudentContentView(ctx, principal, p.course.ID, p.content.ID)
	require.NoError(t, err)
	require.Nil(t, before.LatestGrade)

	_, err = p.store.CreateSubmissionGrade(ctx, &types.SubmissionGrade{
		SubmissionArtifactID:   artifact.ID,
		GradedByCourseMemberID: p.member.ID,
		Grade:                  0.8,
		Status:                 types.GradeStatusCorrected,
	})
	require.NoError(t, err)
	p.views.InvalidateTags(
		cache.NewTag("student_view", p.course.ID),
		cache.NewTag("tutor_view", p.course.ID),
		cache.NewTag("lecturer_view", p.course.ID),
	)

	after, err := p.assembler.StudentContentView(ctx, principal, p.course.ID, p.content.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LatestGrade)
	require.InEpsilon(t, 0.8, after.LatestGrade.Grade, 1e-9)
	require.Equal(t, types.GradeStatusCorrected, after.LatestGrade.Status)
}

func TestEntityTagInvalidation(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()
	principal := p.principal(types.CourseRoleStudent)

	_, err := p.assembler.StudentCourseView(ctx, principal, p.course.ID)
	require.NoError(t, err)

	// the view carries tags for every entity it joined, so a mutation
	// of the submission group alone drops it
	p.upload(t, "def456")
	p.views.InvalidateTags(cache.NewTag(types.KindSubmissionGroup, p.group.ID))

	view, err := p.assembler.StudentCourseView(ctx, principal, p.course.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Contents[0].LatestArtifact)
}

func TestNonMemberRejected(t *testing.T) {
	p := newViewPack(t)
	outsider := &authz.Principal{UserID: "other", Claims: authz.NewClaims()}

	_, err := p.assembler.StudentCourseView(context.Background(), outsider, p.course.ID)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.PermNotCourseMember, code)
}

func TestTutorCourseViewCounts(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()

	p.upload(t, "abc123")

	tutor := &authz.Principal{UserID: "tutor-user", Claims: authz.NewClaims()}
	tutor.Claims.AddDependent(types.KindCourse, p.course.ID, types.CourseRoleTutor)

	view, err := p.assembler.TutorCourseView(ctx, tutor, p.course.ID)
	require.NoError(t, err)
	require.Len(t, view.Contents, 1)
	require.Equal(t, 1, view.Contents[0].Students)
	require.Equal(t, 1, view.Contents[0].Groups)
	require.Equal(t, 1, view.Contents[0].Submitted)
	require.Zero(t, view.Contents[0].Graded)

	// students may not read the grading dashboard
	_, err = p.assembler.TutorCourseView(ctx, p.principal(types.CourseRoleStudent), p.course.ID)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.PermInsufficientRole, code)
}

func TestLecturerCourseViewDeployments(t *testing.T) {
	p := newViewPack(t)
	ctx := context.Background()

	_, err := p.store.CreateDeployment(ctx, &types.CourseContentDeployment{
		CourseContentID: p.content.ID,
		Status:          types.DeploymentPending,
	})
	require.NoError(t, err)

	lecturer := &authz.Principal{UserID: "lect-user", Claims: authz.NewClaims()}
	lecturer.Claims.AddDependent(types.KindCourse, p.course.ID, types.CourseRoleLecturer)

	view, err := p.assembler.LecturerCourseView(ctx, lecturer, p.course.ID)
	require.NoError(t, err)
	require.Equal(t, 1, view.Members)
	require.Len(t, view.Contents, 1)
	require.NotNil(t, view.Contents[0].Deployment)
	require.Equal(t, types.DeploymentPending, view.Contents[0].Deployment.Status)
}
