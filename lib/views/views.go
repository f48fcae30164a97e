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

// Package views assembles the aggregated per-role course views served
// on the hot read paths. Assembled views are cached in the in-process
// tagged cache and in Redis; concurrent assemblies of the same view
// are collapsed through singleflight. Mutating paths elsewhere in the
// core invalidate by entity tag, so a view is never served after one
// of its constituent entities changed.
package views

import (
	"context"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

// Config configures the view assembler.
type Config struct {
	// Services is the storage handle.
	Services services.Services
	// Views is the in-process tagged cache.
	Views *cache.ViewCache
	// Redis is the cross-instance cache, optional.
	Redis *cache.RedisCache
	// TTL bounds cached views.
	TTL time.Duration
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Views == nil {
		return trace.BadParameter("missing parameter Views")
	}
	if c.TTL == 0 {
		c.TTL = defaults.ViewCacheTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Assembler builds and caches per-role views.
type Assembler struct {
	cfg   Config
	group singleflight.Group
	log   logrus.FieldLogger
}

// NewAssembler returns a view assembler.
func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Assembler{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentViews}),
	}, nil
}

// viewKey builds the cache key. The stable tags are embedded in the
// key text so the Redis pattern invalidation finds the entry; the
// in-process cache additionally indexes the per-item tags attached at
// set time.
func viewKey(view string, tags ...cache.Tag) string {
	parts := make([]string, 0, len(tags)+1)
	parts = append(parts, view)
	for _, t := range tags {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, "|")
}

// fetchCached serves a view from the in-process cache, then Redis,
// then assembles it, deduplicating concurrent assemblies per key.
func fetchCached[T any](ctx context.Context, a *Assembler, key string, build func(context.Context) (*T, []cache.Tag, error)) (*T, error) {
	if cached, ok := a.cfg.Views.Get(key); ok {
		if view, ok := cached.(*T); ok {
			return view, nil
		}
	}
	out, err, _ := a.group.Do(key, func() (any, error) {
		if a.cfg.Redis != nil {
			var view T
			if err := a.cfg.Redis.Get(ctx, key, &view); err == nil {
				return &view, nil
			} else if !trace.IsNotFound(err) {
				a.log.WithError(err).Warn("Redis view read failed, assembling from storage.")
			}
		}
		view, tags, err := build(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		a.cfg.Views.Set(key, view, tags...)
		if a.cfg.Redis != nil {
			if err := a.cfg.Redis.Set(ctx, key, view, a.cfg.TTL); err != nil {
				a.log.WithError(err).Warn("Redis view write failed.")
			}
		}
		return view, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out.(*T), nil
}

// ContentStatus is one content item joined with the reader's own
// submission state.
type ContentStatus struct {
	// Content is the content node.
	Content types.CourseContent `json:"content"`
	// SubmissionGroupID is the reader's group for this item, empty
	// when not yet grouped.
	SubmissionGroupID string `json:"submission_group_id,omitempty"`
	// LatestArtifact is the group's newest upload.
	LatestArtifact *types.SubmissionArtifact `json:"latest_artifact,omitempty"`
	// LatestResult is the reader's newest test run on that upload.
	LatestResult *types.Result `json:"latest_result,omitempty"`
	// LatestGrade is the newest tutor grade on that upload.
	LatestGrade *types.SubmissionGrade `json:"latest_grade,omitempty"`
}

// StudentCourseView is the aggregated course page for one student.
type StudentCourseView struct {
	// CourseID is the course.
	CourseID string `json:"course_id"`
	// Role is the reader's course role.
	Role types.CourseRole `json:"role"`
	// UnreadMessages counts unread messages visible in this course.
	UnreadMessages int `json:"unread_messages"`
	// Contents is the course tree in path order.
	Contents []ContentStatus `json:"contents"`
	// AssembledAt is when the view was computed.
	AssembledAt time.Time `json:"assembled_at"`
}

// StudentCourseView assembles (or serves cached) the student's
// aggregated course page.
func (a *Assembler) StudentCourseView(ctx context.Context, p *authz.Principal, courseID string) (*StudentCourseView, error) {
	memberID := p.MemberIDIn(courseID)
	if memberID == "" && !p.IsAdmin {
		return nil, errcode.New(errcode.PermNotCourseMember, courseID)
	}
	key := viewKey("student_course",
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("student_view", courseID),
	)
	return fetchCached(ctx, a, key, func(ctx context.Context) (*StudentCourseView, []cache.Tag, error) {
		return a.assembleStudentCourse(ctx, p, courseID, memberID)
	})
}

func (a *Assembler) assembleStudentCourse(ctx context.Context, p *authz.Principal, courseID, memberID string) (*StudentCourseView, []cache.Tag, error) {
	contents, err := a.cfg.Services.ListCourseContents(ctx, courseID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	tags := []cache.Tag{
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("student_view", courseID),
	}
	view := &StudentCourseView{
		CourseID:    courseID,
		Role:        p.RoleInCourse(courseID),
		AssembledAt: a.cfg.Clock.Now().UTC(),
	}
	for _, content := range contents {
		status, itemTags, err := a.assembleContentStatus(ctx, memberID, content)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		view.Contents = append(view.Contents, *status)
		tags = append(tags, itemTags...)
	}
	unread, err := a.cfg.Services.CountUnreadMessages(ctx, p.UserID, courseMessageFilter(p, courseID))
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	view.UnreadMessages = unread
	return view, tags, nil
}

// StudentContentView assembles the reader's state of one content item.
func (a *Assembler) StudentContentView(ctx context.Context, p *authz.Principal, courseID, contentID string) (*ContentStatus, error) {
	memberID := p.MemberIDIn(courseID)
	if memberID == "" && !p.IsAdmin {
		return nil, errcode.New(errcode.PermNotCourseMember, courseID)
	}
	key := viewKey("student_content",
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag(types.KindCourseContent, contentID),
		cache.NewTag("student_view", courseID),
	)
	return fetchCached(ctx, a, key, func(ctx context.Context) (*ContentStatus, []cache.Tag, error) {
		content, err := a.cfg.Services.GetCourseContent(ctx, contentID)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		if content.CourseID != courseID {
			return nil, nil, trace.NotFound("content %s not found in course %s", contentID, courseID)
		}
		status, itemTags, err := a.assembleContentStatus(ctx, memberID, *content)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		tags := append(itemTags,
			cache.UserTag(p.UserID),
			cache.NewTag(types.KindCourse, courseID),
			cache.NewTag("student_view", courseID),
		)
		return status, tags, nil
	})
}

// assembleContentStatus joins one content item with the member's
// group, newest artifact, newest result, and newest grade.
func (a *Assembler) assembleContentStatus(ctx context.Context, memberID string, content types.CourseContent) (*ContentStatus, []cache.Tag, error) {
	status := &ContentStatus{Content: content}
	tags := []cache.Tag{cache.NewTag(types.KindCourseContent, content.ID)}
	if memberID == "" {
		return status, tags, nil
	}

	group, err := a.cfg.Services.GetSubmissionGroupForMember(ctx, memberID, content.ID)
	if err != nil {
		if trace.IsNotFound(err) {
			return status, tags, nil
		}
		return nil, nil, trace.Wrap(err)
	}
	status.SubmissionGroupID = group.ID
	tags = append(tags, cache.NewTag(types.KindSubmissionGroup, group.ID))

	artifact, err := a.cfg.Services.GetLatestSubmissionArtifact(ctx, group.ID)
	if err != nil {
		if trace.IsNotFound(err) {
			return status, tags, nil
		}
		return nil, nil, trace.Wrap(err)
	}
	status.LatestArtifact = artifact

	results, err := a.cfg.Services.ListResultsForArtifact(ctx, artifact.ID, memberID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if len(results) > 0 {
		status.LatestResult = &results[0]
	}
	grades, err := a.cfg.Services.ListSubmissionGrades(ctx, artifact.ID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if len(grades) > 0 {
		status.LatestGrade = &grades[0]
	}
	return status, tags, nil
}

// courseMessageFilter admits the messages the principal can see inside
// one course: broadcasts, messages to the member row, to the member's
// course groups, to the member's submission groups, direct messages,
// and everything when holding tutor or above.
func courseMessageFilter(p *authz.Principal, courseID string) authz.RowFilter {
	clauses := []authz.RowFilter{
		{SubjectUserIn: []string{p.UserID}},
		{GroupUserIn: []string{p.UserID}},
		{CourseBroadcastIn: []string{courseID}},
	}
	if memberID := p.MemberIDIn(courseID); memberID != "" {
		clauses = append(clauses, authz.RowFilter{CourseMemberIn: []string{memberID}})
	}
	for _, m := range p.Memberships {
		if m.CourseID == courseID && m.CourseGroupID != "" {
			clauses = append(clauses, authz.RowFilter{CourseGroupIn: []string{m.CourseGroupID}})
		}
	}
	if p.HasCourseRole(courseID, types.CourseRoleTutor) {
		clauses = append(clauses, authz.RowFilter{CourseIn: []string{courseID}})
	}
	return authz.Union(clauses...)
}
