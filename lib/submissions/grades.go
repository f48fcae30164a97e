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
	"context"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
)

// GradeRequest carries a tutor's verdict on one artifact.
type GradeRequest struct {
	// SubmissionArtifactID is the graded artifact.
	SubmissionArtifactID string
	// Grade is the score in [0.0, 1.0].
	Grade float64
	// Status is the review verdict.
	Status types.GradeStatus
	// Comment is optional feedback.
	Comment string
}

// CreateGrade records a grade on an artifact. Grading requires a
// course membership at tutor or above; multiple grades stack and the
// latest one is effective.
func (s *Service) CreateGrade(ctx context.Context, p *authz.Principal, req GradeRequest) (*types.SubmissionGrade, error) {
	artifact, err := s.cfg.Services.GetSubmissionArtifact(ctx, req.SubmissionArtifactID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, artifact.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !p.HasCourseRole(group.CourseID, types.CourseRoleTutor) {
		return nil, errcode.New(errcode.PermInsufficientRole, types.CourseRoleTutor)
	}
	memberID := p.MemberIDIn(group.CourseID)
	if memberID == "" {
		return nil, errcode.New(errcode.PermNotCourseMember, group.CourseID)
	}
	grade, err := s.cfg.Services.CreateSubmissionGrade(ctx, &types.SubmissionGrade{
		SubmissionArtifactID:   artifact.ID,
		GradedByCourseMemberID: memberID,
		Grade:                  req.Grade,
		Status:                 req.Status,
		Comment:                req.Comment,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.invalidateGroupViews(ctx, group, content); err != nil {
		s.log.WithError(err).Warn("View invalidation after grading failed.")
	}
	s.log.WithFields(logrus.Fields{
		"artifact_id": artifact.ID,
		"status":      string(grade.Status),
	}).Info("Recorded submission grade.")
	return grade, nil
}

// UpdateGrade edits a grade. Only the grading member's user may edit.
func (s *Service) UpdateGrade(ctx context.Context, p *authz.Principal, gradeID string, req GradeRequest) (*types.SubmissionGrade, error) {
	grade, err := s.cfg.Services.GetSubmissionGrade(ctx, gradeID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	grader, err := s.cfg.Services.GetCourseMember(ctx, grade.GradedByCourseMemberID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if grader.UserID != p.UserID {
		return nil, errcode.New(errcode.PermAuthorOnly)
	}
	grade.Grade = req.Grade
	grade.Status = req.Status
	grade.Comment = req.Comment
	if err := s.cfg.Services.UpdateSubmissionGrade(ctx, grade); err != nil {
		return nil, trace.Wrap(err)
	}
	artifact, err := s.cfg.Services.GetSubmissionArtifact(ctx, grade.SubmissionArtifactID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, artifact.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.invalidateGroupViews(ctx, group, content); err != nil {
		s.log.WithError(err).Warn("View invalidation after grade edit failed.")
	}
	return grade, nil
}
