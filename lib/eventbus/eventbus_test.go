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

package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

// fakeTransport is a channel-backed Transport so tests can drive both
// directions without sockets.
type fakeTransport struct {
	in       chan []byte
	received chan []byte

	mu        sync.Mutex
	closeCode int
	closed    chan struct{}
	once      sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:       make(chan []byte, 16),
		received: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case raw := <-t.in:
		return raw, nil
	case <-t.closed:
		return nil, trace.ConnectionProblem(nil, "closed")
	}
}

func (t *fakeTransport) WriteMessage(data []byte, _ time.Time) error {
	select {
	case t.received <- data:
		return nil
	case <-t.closed:
		return trace.ConnectionProblem(nil, "closed")
	}
}

func (t *fakeTransport) Ping(time.Time) error { return nil }

func (t *fakeTransport) CloseWithCode(code int, _ string) error {
	t.mu.Lock()
	t.closeCode = code
	t.mu.Unlock()
	return t.Close()
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) lastCloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// next returns the next frame or fails the test.
func (t *fakeTransport) next(test *testing.T) []byte {
	test.Helper()
	select {
	case raw := <-t.received:
		return raw
	case <-time.After(5 * time.Second):
		test.Fatal("timed out waiting for a frame")
		return nil
	}
}

type busPack struct {
	manager *Manager
	store   *services.Memory
	redis   *miniredis.Miniredis

	course *types.Course
	group  *types.SubmissionGroup

	student  *authz.Principal
	outsider *authz.Principal
}

func newBusPack(t *testing.T, mutate func(*Config)) *busPack {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := services.NewMemory(clockwork.NewFakeClock())

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
		CourseID: course.ID, CourseContentTypeID: contentType.ID, Title: "Sheet 1", Path: "sheet1",
	})
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, &types.User{Username: "stu"})
	require.NoError(t, err)
	member, err := store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: course.ID, UserID: user.ID, CourseRole: types.CourseRoleStudent,
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

	student := &authz.Principal{
		UserID:   user.ID,
		Username: "stu",
		Claims:   authz.NewClaims(),
		Memberships: []authz.Membership{{
			CourseMemberID: member.ID, CourseID: course.ID, Role: types.CourseRoleStudent,
		}},
	}
	student.Claims.AddDependent(types.KindCourse, course.ID, types.CourseRoleStudent)
	outsider := &authz.Principal{UserID: "other", Username: "other", Claims: authz.NewClaims()}

	cfg := Config{
		Redis:       client,
		Services:    store,
		SendTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	manager, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return &busPack{
		manager: manager, store: store, redis: mr,
		course: course, group: group,
		student: student, outsider: outsider,
	}
}

func TestSubscribeAndFanOut(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	transport := newFakeTransport()
	conn, err := p.manager.Register(ctx, p.student, transport)
	require.NoError(t, err)

	channel := types.KindCourse + ":" + p.course.ID
	accepted, rejected, err := p.manager.Subscribe(ctx, conn, []string{channel})
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Equal(t, []string{channel}, accepted)

	require.NoError(t, p.manager.Publish(ctx, channel, "message.created", map[string]string{"id": "m1"}))

	var event Event
	require.NoError(t, json.Unmarshal(transport.next(t), &event))
	require.Equal(t, channel, event.Channel)
	require.Equal(t, "message.created", event.Type)
	require.JSONEq(t, `{"id":"m1"}`, string(event.Payload))
}

func TestSubscriptionPermissions(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	courseChannel := types.KindCourse + ":" + p.course.ID
	groupChannel := types.KindSubmissionGroup + ":" + p.group.ID

	outsiderConn, err := p.manager.Register(ctx, p.outsider, newFakeTransport())
	require.NoError(t, err)
	accepted, rejected, err := p.manager.Subscribe(ctx, outsiderConn, []string{courseChannel})
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Len(t, rejected, 1)
	require.Equal(t, courseChannel, rejected[0].Channel)
	require.Equal(t, string(errcode.PermSubscriptionDenied), rejected[0].Code)

	studentConn, err := p.manager.Register(ctx, p.student, newFakeTransport())
	require.NoError(t, err)
	accepted, rejected, err = p.manager.Subscribe(ctx, studentConn, []string{courseChannel, groupChannel})
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, accepted, 2)

	// malformed channels are rejected
	accepted, rejected, err = p.manager.Subscribe(ctx, studentConn, []string{"nonsense", "user:u1"})
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Len(t, rejected, 2)
	require.Equal(t, string(errcode.ValInvalidRequest), rejected[0].Code)
	require.Equal(t, string(errcode.ValInvalidRequest), rejected[1].Code)
}

// A refused channel must not take the rest of the batch down with it,
// even when it is listed first.
func TestSubscribeBatchIndependence(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	other, err := p.store.CreateCourse(ctx, &types.Course{
		CourseFamilyID: p.course.CourseFamilyID, Title: "Prog SS26", Path: "uni.prog.ss26",
	})
	require.NoError(t, err)

	deniedChannel := types.KindCourse + ":" + other.ID
	allowedChannel := types.KindCourse + ":" + p.course.ID

	conn, err := p.manager.Register(ctx, p.student, newFakeTransport())
	require.NoError(t, err)

	accepted, rejected, err := p.manager.Subscribe(ctx, conn, []string{deniedChannel, allowedChannel})
	require.NoError(t, err)
	require.Equal(t, []string{allowedChannel}, accepted)
	require.Len(t, rejected, 1)
	require.Equal(t, deniedChannel, rejected[0].Channel)
	require.Equal(t, string(errcode.PermSubscriptionDenied), rejected[0].Code)
	require.Contains(t, rejected[0].Reason, deniedChannel)

	// the accepted leg is live
	require.NoError(t, p.manager.Publish(ctx, allowedChannel, "message.created", map[string]string{"id": "m1"}))
	var event Event
	require.NoError(t, json.Unmarshal(conn.transport.(*fakeTransport).next(t), &event))
	require.Equal(t, allowedChannel, event.Channel)
}

func TestConnectionLimits(t *testing.T) {
	p := newBusPack(t, func(cfg *Config) {
		cfg.MaxConnectionsPerUser = 1
	})
	ctx := context.Background()

	_, err := p.manager.Register(ctx, p.student, newFakeTransport())
	require.NoError(t, err)

	second := newFakeTransport()
	_, err = p.manager.Register(ctx, p.student, second)
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, CloseLimitExceeded, second.lastCloseCode())

	// other users are unaffected
	_, err = p.manager.Register(ctx, p.outsider, newFakeTransport())
	require.NoError(t, err)
}

func TestDisconnectCleansSubscriptions(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	transport := newFakeTransport()
	conn, err := p.manager.Register(ctx, p.student, transport)
	require.NoError(t, err)
	channel := types.KindCourse + ":" + p.course.ID
	_, _, err = p.manager.Subscribe(ctx, conn, []string{channel})
	require.NoError(t, err)

	conn.Close()

	p.manager.mu.Lock()
	_, stillSubscribed := p.manager.subscribers[channel]
	total := p.manager.total
	p.manager.mu.Unlock()
	require.False(t, stillSubscribed)
	require.Zero(t, total)
}

func TestPresence(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	online, err := p.manager.Online(ctx, p.student.UserID)
	require.NoError(t, err)
	require.False(t, online)

	_, err = p.manager.Register(ctx, p.student, newFakeTransport())
	require.NoError(t, err)

	online, err = p.manager.Online(ctx, p.student.UserID)
	require.NoError(t, err)
	require.True(t, online)

	// the key carries a TTL and expires without refreshes
	p.redis.FastForward(2 * time.Minute)
	online, err = p.manager.Online(ctx, p.student.UserID)
	require.NoError(t, err)
	require.False(t, online)
}

func TestClientDrivenSubscription(t *testing.T) {
	p := newBusPack(t, nil)
	ctx := context.Background()

	transport := newFakeTransport()
	_, err := p.manager.Register(ctx, p.student, transport)
	require.NoError(t, err)

	channel := types.KindCourse + ":" + p.course.ID
	request, err := json.Marshal(ClientRequest{Action: "subscribe", Channels: []string{channel}})
	require.NoError(t, err)
	transport.in <- request

	var reply ControlReply
	require.NoError(t, json.Unmarshal(transport.next(t), &reply))
	require.Equal(t, "subscribed", reply.Type)
	require.Equal(t, []string{channel}, reply.Channels)

	require.NoError(t, p.manager.Publish(ctx, channel, "deployment.updated", map[string]string{"status": "deployed"}))
	var event Event
	require.NoError(t, json.Unmarshal(transport.next(t), &event))
	require.Equal(t, "deployment.updated", event.Type)
}
