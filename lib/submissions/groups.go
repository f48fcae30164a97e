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
	"crypto/subtle"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/utils"
)

// CreateGroup creates a submission group for the caller on one
// content item and places the caller in it. A member can hold at most
// one group per content item.
func (s *Service) CreateGroup(ctx context.Context, p *authz.Principal, contentID string, withJoinCode bool) (*types.SubmissionGroup, error) {
	content, err := s.cfg.Services.GetCourseContent(ctx, contentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	contentType, err := s.cfg.Services.GetCourseContentType(ctx, content.CourseContentTypeID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !contentType.Kind.Submittable() {
		return nil, errcode.New(errcode.ValNotSubmittable, content.Title)
	}
	memberID := p.MemberIDIn(content.CourseID)
	if memberID == "" {
		return nil, errcode.New(errcode.PermNotCourseMember, content.CourseID)
	}
	if existing, err := s.cfg.Services.GetSubmissionGroupForMember(ctx, memberID, content.ID); err == nil {
		return nil, trace.AlreadyExists("already in group %s for this content", existing.ID)
	} else if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	group := &types.SubmissionGroup{
		CourseID:        content.CourseID,
		CourseContentID: content.ID,
		MaxGroupSize:    content.MaxGroupSize,
		MaxSubmissions:  content.MaxSubmissions,
		MaxTestRuns:     content.MaxTestRuns,
	}
	if withJoinCode && group.MaxGroupSize > 1 {
		code, err := utils.CryptoRandomHex(4)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		group.JoinCode = &code
	}
	created, err := s.cfg.Services.CreateSubmissionGroup(ctx, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.cfg.Services.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: created.ID,
		CourseMemberID:    memberID,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Invalidator.InvalidateTags(ctx,
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindCourseContent, content.ID),
		cache.NewTag("student_view", content.CourseID),
	); err != nil {
		s.log.WithError(err).Warn("View invalidation after group creation failed.")
	}
	s.log.WithFields(logrus.Fields{
		"group_id":   created.ID,
		"content_id": content.ID,
	}).Info("Created submission group.")
	return created, nil
}

// JoinGroup admits the caller into an existing group when the join
// code matches and the group has room. A member already grouped for
// the same content item is rejected.
func (s *Service) JoinGroup(ctx context.Context, p *authz.Principal, groupID, joinCode string) (*types.SubmissionGroupMember, error) {
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, groupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	memberID := p.MemberIDIn(group.CourseID)
	if memberID == "" {
		return nil, errcode.New(errcode.PermNotCourseMember, group.CourseID)
	}
	if group.JoinCode == nil ||
		subtle.ConstantTimeCompare([]byte(*group.JoinCode), []byte(joinCode)) != 1 {
		return nil, errcode.New(errcode.SubInvalidJoinCode)
	}
	members, err := s.cfg.Services.ListSubmissionGroupMembers(ctx, group.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(members) >= group.MaxGroupSize {
		return nil, errcode.NewWithDetails(errcode.SubGroupFull,
			map[string]any{"max_group_size": group.MaxGroupSize}, group.MaxGroupSize)
	}
	added, err := s.cfg.Services.AddSubmissionGroupMember(ctx, &types.SubmissionGroupMember{
		SubmissionGroupID: group.ID,
		CourseMemberID:    memberID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Invalidator.InvalidateTags(ctx,
		cache.UserTag(p.UserID),
		cache.NewTag(types.KindSubmissionGroup, group.ID),
		cache.NewTag(types.KindCourseContent, group.CourseContentID),
		cache.NewTag("student_view", group.CourseID),
	); err != nil {
		s.log.WithError(err).Warn("View invalidation after group join failed.")
	}
	return added, nil
}
