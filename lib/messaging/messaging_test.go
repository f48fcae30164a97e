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

package messaging

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

type msgPack struct {
	service *Service
	store   *services.Memory

	course  *types.Course
	content *types.CourseContent
	group   *types.SubmissionGroup

	student  *authz.Principal
	outsider *authz.Principal
	tutor    *authz.Principal
	lecturer *authz.Principal
}

func newMsgPack(t *testing.T) *msgPack {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)

	service, err := NewService(Config{Services: store, Clock: clock})
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

	principalFor := func(username string, role types.CourseRole) (*authz.Principal, *types.CourseMember) {
		user, err := store.CreateUser(ctx, &types.User{Username: username})
		require.NoError(t, err)
		member, err := store.CreateCourseMember(ctx, &types.CourseMember{
			CourseID: course.ID, UserID: user.ID, CourseRole: role,
		})
		require.NoError(t, err)
		p := &authz.Principal{
			UserID:   user.ID,
			Username: username,
			Claims:   authz.NewClaims(),
			Memberships: []authz.Membership{{
				CourseMemberID: member.ID,
				CourseID:       course.ID,
				Role:           role,
			}},
		}
		p.Claims.AddDependent(types.KindCourse, course.ID, role)
		return p, member
	}

	student, studentMember := principalFor("stu", types.CourseRoleStudent)
	outsider, _ := principalFor("other", types.CourseRoleStudent)
	tutor, _ := principalFor("tut", types.CourseRoleTutor)
	lecturer, _ := principalFor("lect", types.CourseRoleLecturer)

	group, err := store.CreateSubmissionGroup(ctx, &types.SubmissionGroup{
		CourseID: course.ID, CourseContentID: content.ID, MaxGroupSize: 2,
	})
	require.NoError(t, err)
	_, err = store.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: group.ID, CourseMemberID: studentMember.ID,
	})
	require.NoError(t, err)

	return &msgPack{
		service: service, store: store,
		course: course, content: content, group: group,
		student: student, outsider: outsider, tutor: tutor, lecturer: lecturer,
	}
}

func requireCode(t *testing.T, err error, want errcode.Code) {
	t.Helper()
	code, ok := errcode.CodeOf(err)
	require.True(t, ok, "expected a coded error, got %v", err)
	require.Equal(t, want, code)
}

func TestGroupMessageWriters(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	msg, err := p.service.CreateMessage(ctx, p.student, CreateMessageRequest{
		Content: "when is the deadline?", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.CourseID)
	require.Equal(t, p.course.ID, *msg.CourseID)

	// staff may write into any group of their course
	_, err = p.service.CreateMessage(ctx, p.tutor, CreateMessageRequest{
		Content: "friday", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)

	// a student outside the group may not
	_, err = p.service.CreateMessage(ctx, p.outsider, CreateMessageRequest{
		Content: "me too", SubmissionGroupID: &p.group.ID,
	})
	requireCode(t, err, errcode.PermDenied)
}

func TestBroadcastRequiresLecturer(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	_, err := p.service.CreateMessage(ctx, p.tutor, CreateMessageRequest{
		Content: "exam moved", CourseID: &p.course.ID,
	})
	requireCode(t, err, errcode.PermDenied)

	msg, err := p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "exam moved", CourseID: &p.course.ID,
	})
	require.NoError(t, err)
	require.Equal(t, p.course.ID, *msg.CourseID)

	// content messages copy the course id from the content item
	contentMsg, err := p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "sheet 1 clarification", CourseContentID: &p.content.ID,
	})
	require.NoError(t, err)
	require.Equal(t, p.course.ID, *contentMsg.CourseID)
}

func TestRejectedTargets(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	courseGroupID := "cg-1"
	_, err := p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "hi", CourseGroupID: &courseGroupID,
	})
	requireCode(t, err, errcode.MsgTargetNotAllowed)

	userID := p.outsider.UserID
	_, err = p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "hi", UserID: &userID,
	})
	requireCode(t, err, errcode.MsgTargetNotSupported)

	_, err = p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{Content: "hi"})
	requireCode(t, err, errcode.ValInvalidRequest)
}

func TestReplyInheritsTarget(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	parent, err := p.service.CreateMessage(ctx, p.student, CreateMessageRequest{
		Content: "question", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)

	reply, err := p.service.CreateMessage(ctx, p.tutor, CreateMessageRequest{
		ParentID: &parent.ID, Content: "answer",
	})
	require.NoError(t, err)
	require.NotNil(t, reply.SubmissionGroupID)
	require.Equal(t, p.group.ID, *reply.SubmissionGroupID)
	require.Equal(t, p.course.ID, *reply.CourseID)
}

func TestAuthorOnlyEdits(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	msg, err := p.service.CreateMessage(ctx, p.student, CreateMessageRequest{
		Content: "typo everywhere", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)

	_, err = p.service.UpdateMessage(ctx, p.tutor, msg.ID, "", "fixed")
	requireCode(t, err, errcode.PermAuthorOnly)
	err = p.service.DeleteMessage(ctx, p.tutor, msg.ID)
	requireCode(t, err, errcode.PermAuthorOnly)

	updated, err := p.service.UpdateMessage(ctx, p.student, msg.ID, "fixed", "no more typos")
	require.NoError(t, err)
	require.Equal(t, "no more typos", updated.Content)
	require.NoError(t, p.service.DeleteMessage(ctx, p.student, msg.ID))
}

func TestVisibility(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	groupMsg, err := p.service.CreateMessage(ctx, p.student, CreateMessageRequest{
		Content: "group internal", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)
	broadcast, err := p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "course wide", CourseID: &p.course.ID,
	})
	require.NoError(t, err)

	// the outsider sees the broadcast but not the group message
	visible, err := p.service.ListMessages(ctx, p.outsider, p.course.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(visible))
	for _, m := range visible {
		ids = append(ids, m.ID)
	}
	require.Contains(t, ids, broadcast.ID)
	require.NotContains(t, ids, groupMsg.ID)

	_, err = p.service.GetMessage(ctx, p.outsider, groupMsg.ID)
	requireCode(t, err, errcode.PermDenied)

	// tutors see everything in their course
	visible, err = p.service.ListMessages(ctx, p.tutor, p.course.ID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
}

func TestReadMarkers(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	msg, err := p.service.CreateMessage(ctx, p.lecturer, CreateMessageRequest{
		Content: "read me", CourseID: &p.course.ID,
	})
	require.NoError(t, err)

	unread, err := p.service.CountUnread(ctx, p.student)
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	require.NoError(t, p.service.MarkRead(ctx, p.student, msg.ID))
	require.NoError(t, p.service.MarkRead(ctx, p.student, msg.ID)) // idempotent

	unread, err = p.service.CountUnread(ctx, p.student)
	require.NoError(t, err)
	require.Zero(t, unread)

	require.NoError(t, p.service.MarkUnread(ctx, p.student, msg.ID))
	require.NoError(t, p.service.MarkUnread(ctx, p.student, msg.ID))

	unread, err = p.service.CountUnread(ctx, p.student)
	require.NoError(t, err)
	require.Equal(t, 1, unread)
}

// A read marker change must evict the reader's views and the views
// scoped to the message's target, not just the user tag.
func TestReadMarkerInvalidatesScopedViews(t *testing.T) {
	p := newMsgPack(t)
	ctx := context.Background()

	views, err := cache.NewViewCache(cache.ViewCacheConfig{})
	require.NoError(t, err)
	service, err := NewService(Config{
		Services:    p.store,
		Invalidator: cache.NewInvalidator(views, nil),
	})
	require.NoError(t, err)

	msg, err := service.CreateMessage(ctx, p.student, CreateMessageRequest{
		Content: "done?", SubmissionGroupID: &p.group.ID,
	})
	require.NoError(t, err)

	views.Set("reader-inbox", "cached", cache.UserTag(p.student.UserID))
	views.Set("group-thread", "cached", cache.NewTag(types.KindSubmissionGroup, p.group.ID))
	views.Set("course-board", "cached", cache.NewTag(types.KindCourse, p.course.ID))
	views.Set("unrelated", "cached", cache.NewTag(types.KindCourse, "other-course"))

	require.NoError(t, service.MarkRead(ctx, p.student, msg.ID))

	_, ok := views.Get("reader-inbox")
	require.False(t, ok)
	_, ok = views.Get("group-thread")
	require.False(t, ok)
	_, ok = views.Get("course-board")
	require.False(t, ok)
	_, ok = views.Get("unrelated")
	require.True(t, ok)
}
