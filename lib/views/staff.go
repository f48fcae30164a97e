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
	"time"

	"github.com/gravitational/trace"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
)

// GradingStatus aggregates one content item for the tutor view.
type GradingStatus struct {
	// Content is the content node.
	Content types.CourseContent `json:"content"`
	// Students counts enrolled students.
	Students int `json:"students"`
	// Groups counts submission groups with at least one upload.
	Groups int `json:"groups"`
	// Submitted counts groups with an official submission.
	Submitted int `json:"submitted"`
	// Graded counts groups whose newest artifact carries a grade.
	Graded int `json:"graded"`
}

// TutorCourseView is the grading dashboard for one course.
type TutorCourseView struct {
	// CourseID is the course.
	CourseID string `json:"course_id"`
	// Contents aggregates grading progress per content item.
	Contents []GradingStatus `json:"contents"`
	// AssembledAt is when the view was computed.
	AssembledAt time.Time `json:"assembled_at"`
}

// TutorCourseView assembles the grading dashboard. Requires tutor or
// above in the course.
func (a *Assembler) TutorCourseView(ctx context.Context, p *authz.Principal, courseID string) (*TutorCourseView, error) {
	if !p.IsAdmin && !p.HasCourseRole(courseID, types.CourseRoleTutor) {
		return nil, errcode.New(errcode.PermInsufficientRole, types.CourseRoleTutor)
	}
	key := viewKey("tutor_course",
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("tutor_view", courseID),
	)
	return fetchCached(ctx, a, key, func(ctx context.Context) (*TutorCourseView, []cache.Tag, error) {
		return a.assembleTutorCourse(ctx, p, courseID)
	})
}

func (a *Assembler) assembleTutorCourse(ctx context.Context, p *authz.Principal, courseID string) (*TutorCourseView, []cache.Tag, error) {
	contents, err := a.cfg.Services.ListCourseContents(ctx, courseID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	members, err := a.cfg.Services.ListCourseMembers(ctx, authz.RowFilter{CourseIn: []string{courseID}})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	var students []types.CourseMember
	for _, m := range members {
		if m.CourseRole == types.CourseRoleStudent {
			students = append(students, m)
		}
	}

	tags := []cache.Tag{
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("tutor_view", courseID),
	}
	view := &TutorCourseView{CourseID: courseID, AssembledAt: a.cfg.Clock.Now().UTC()}
	for _, content := range contents {
		status := GradingStatus{Content: content, Students: len(students)}
		tags = append(tags, cache.NewTag(types.KindCourseContent, content.ID))
		seen := make(map[string]struct{})
		for _, student := range students {
			group, err := a.cfg.Services.GetSubmissionGroupForMember(ctx, student.ID, content.ID)
			if err != nil {
				if trace.IsNotFound(err) {
					continue
				}
				return nil, nil, trace.Wrap(err)
			}
			if _, ok := seen[group.ID]; ok {
				continue
			}
			seen[group.ID] = struct{}{}

			artifact, err := a.cfg.Services.GetLatestSubmissionArtifact(ctx, group.ID)
			if err != nil {
				if trace.IsNotFound(err) {
					continue
				}
				return nil, nil, trace.Wrap(err)
			}
			status.Groups++
			tags = append(tags, cache.NewTag(types.KindSubmissionGroup, group.ID))
			if artifact.Submit {
				status.Submitted++
			}
			grades, err := a.cfg.Services.ListSubmissionGrades(ctx, artifact.ID)
			if err != nil {
				return nil, nil, trace.Wrap(err)
			}
			if len(grades) > 0 {
				status.Graded++
			}
		}
		view.Contents = append(view.Contents, status)
	}
	return view, tags, nil
}

// DeploymentStatus joins one content item with its deployment for the
// lecturer view.
type DeploymentStatus struct {
	// Content is the content node.
	Content types.CourseContent `json:"content"`
	// Deployment is the bound deployment, nil when never assigned.
	Deployment *types.CourseContentDeployment `json:"deployment,omitempty"`
}

// LecturerCourseView is the course administration page.
type LecturerCourseView struct {
	// CourseID is the course.
	CourseID string `json:"course_id"`
	// Members counts all enrolled members.
	Members int `json:"members"`
	// Contents lists the tree with deployment state.
	Contents []DeploymentStatus `json:"contents"`
	// AssembledAt is when the view was computed.
	AssembledAt time.Time `json:"assembled_at"`
}

// LecturerCourseView assembles the administration page. Requires
// lecturer or above in the course.
func (a *Assembler) LecturerCourseView(ctx context.Context, p *authz.Principal, courseID string) (*LecturerCourseView, error) {
	if !p.IsAdmin && !p.HasCourseRole(courseID, types.CourseRoleLecturer) {
		return nil, errcode.New(errcode.PermInsufficientRole, types.CourseRoleLecturer)
	}
	key := viewKey("lecturer_course",
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("lecturer_view", courseID),
	)
	return fetchCached(ctx, a, key, func(ctx context.Context) (*LecturerCourseView, []cache.Tag, error) {
		return a.assembleLecturerCourse(ctx, p, courseID)
	})
}

func (a *Assembler) assembleLecturerCourse(ctx context.Context, p *authz.Principal, courseID string) (*LecturerCourseView, []cache.Tag, error) {
	contents, err := a.cfg.Services.ListCourseContents(ctx, courseID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	members, err := a.cfg.Services.ListCourseMembers(ctx, authz.RowFilter{CourseIn: []string{courseID}})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	tags := []cache.Tag{
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourse, courseID),
		cache.NewTag("lecturer_view", courseID),
	}
	view := &LecturerCourseView{
		CourseID:    courseID,
		Members:     len(members),
		AssembledAt: a.cfg.Clock.Now().UTC(),
	}
	for _, content := range contents {
		tags = append(tags, cache.NewTag(types.KindCourseContent, content.ID))
		status := DeploymentStatus{Content: content}
		deployment, err := a.cfg.Services.GetDeploymentByContent(ctx, content.ID)
		if err == nil {
			status.Deployment = deployment
		} else if !trace.IsNotFound(err) {
			return nil, nil, trace.Wrap(err)
		}
		view.Contents = append(view.Contents, status)
	}
	return view, tags, nil
}
