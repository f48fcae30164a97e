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

// Package messaging serves hierarchical messages. A message addresses
// at most one target (submission group, content item, course group, or
// course); replies inherit the parent's target. Read markers are
// per-user set memberships and both directions are idempotent.
package messaging

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
)

// Config configures the message service.
type Config struct {
	// Services is the storage handle.
	Services services.Services
	// Registry decides visibility and create permissions.
	Registry *authz.Registry
	// Invalidator drops stale cached views after mutations.
	Invalidator *cache.Invalidator
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Registry == nil {
		c.Registry = authz.NewRegistry()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service creates, lists, edits, and read-tracks messages.
type Service struct {
	cfg Config
	log logrus.FieldLogger
}

// NewService returns a message service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentMessaging}),
	}, nil
}

// CreateMessageRequest carries the body and exactly one target, or a
// parent to reply to.
type CreateMessageRequest struct {
	// ParentID threads the message under a parent, inheriting its
	// target.
	ParentID *string
	// Title is the optional subject line.
	Title string
	// Content is the message body.
	Content string

	// UserID targets a single user. Not implemented.
	UserID *string
	// CourseMemberID targets one membership. Not implemented.
	CourseMemberID *string
	// SubmissionGroupID targets a submission group.
	SubmissionGroupID *string
	// CourseGroupID is a read-only target; creation is rejected.
	CourseGroupID *string
	// CourseContentID targets a content item.
	CourseContentID *string
	// CourseID targets the whole course.
	CourseID *string
}

// CreateMessage validates the target, checks the per-target writer
// rule, copies the course context onto the row, and persists it.
func (s *Service) CreateMessage(ctx context.Context, p *authz.Principal, req CreateMessageRequest) (*types.Message, error) {
	msg := &types.Message{
		AuthorUserID:      p.UserID,
		ParentID:          req.ParentID,
		Title:             req.Title,
		Content:           req.Content,
		UserID:            req.UserID,
		CourseMemberID:    req.CourseMemberID,
		SubmissionGroupID: req.SubmissionGroupID,
		CourseGroupID:     req.CourseGroupID,
		CourseContentID:   req.CourseContentID,
		CourseID:          req.CourseID,
	}
	if req.ParentID != nil {
		parent, err := s.cfg.Services.GetMessage(ctx, *req.ParentID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		msg.InheritTarget(parent)
	}
	if err := msg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	kind, _ := msg.PrimaryTarget()
	switch kind {
	case types.KindUser, types.KindCourseMember:
		return nil, errcode.New(errcode.MsgTargetNotSupported, "user")
	case types.KindCourseGroup:
		return nil, errcode.New(errcode.MsgTargetNotAllowed, "course_group")
	case types.KindSubmissionGroup:
		group, err := s.cfg.Services.GetSubmissionGroup(ctx, *msg.SubmissionGroupID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		msg.CourseID = &group.CourseID
	case types.KindCourseContent:
		content, err := s.cfg.Services.GetCourseContent(ctx, *msg.CourseContentID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		msg.CourseID = &content.CourseID
	case types.KindCourse:
		if _, err := s.cfg.Services.GetCourse(ctx, *msg.CourseID); err != nil {
			return nil, trace.Wrap(err)
		}
	default:
		return nil, errcode.New(errcode.ValInvalidRequest, "message requires a target")
	}

	res, err := s.resourceFor(ctx, msg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Registry.Authorize(p, types.KindMessage, types.ActionCreate, res); err != nil {
		return nil, trace.Wrap(err)
	}
	created, err := s.cfg.Services.CreateMessage(ctx, msg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.invalidate(ctx, created)
	s.log.WithFields(logrus.Fields{
		"message_id": created.ID,
		"target":     kind,
	}).Info("Created message.")
	return created, nil
}

// UpdateMessage edits title and content. Author only.
func (s *Service) UpdateMessage(ctx context.Context, p *authz.Principal, messageID, title, content string) (*types.Message, error) {
	msg, err := s.cfg.Services.GetMessage(ctx, messageID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if msg.AuthorUserID != p.UserID {
		return nil, errcode.New(errcode.PermAuthorOnly)
	}
	msg.Title = title
	msg.Content = content
	if err := s.cfg.Services.UpdateMessage(ctx, msg); err != nil {
		return nil, trace.Wrap(err)
	}
	s.invalidate(ctx, msg)
	return msg, nil
}

// DeleteMessage removes a message and its read markers. Author only.
func (s *Service) DeleteMessage(ctx context.Context, p *authz.Principal, messageID string) error {
	msg, err := s.cfg.Services.GetMessage(ctx, messageID)
	if err != nil {
		return trace.Wrap(err)
	}
	if msg.AuthorUserID != p.UserID {
		return errcode.New(errcode.PermAuthorOnly)
	}
	if err := s.cfg.Services.DeleteMessage(ctx, msg.ID); err != nil {
		return trace.Wrap(err)
	}
	s.invalidate(ctx, msg)
	return nil
}

// ListMessages returns the messages visible to the principal, newest
// first, optionally restricted to one course.
func (s *Service) ListMessages(ctx context.Context, p *authz.Principal, courseID string) ([]types.Message, error) {
	filter := s.cfg.Registry.BuildQuery(p, types.KindMessage, types.ActionList)
	messages, err := s.cfg.Services.ListMessages(ctx, filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if courseID == "" {
		return messages, nil
	}
	scoped := messages[:0]
	for _, m := range messages {
		if m.CourseID != nil && *m.CourseID == courseID {
			scoped = append(scoped, m)
		}
	}
	return scoped, nil
}

// GetMessage returns one message if the principal may see it.
func (s *Service) GetMessage(ctx context.Context, p *authz.Principal, messageID string) (*types.Message, error) {
	msg, err := s.cfg.Services.GetMessage(ctx, messageID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	res, err := s.resourceFor(ctx, msg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Registry.Authorize(p, types.KindMessage, types.ActionGet, res); err != nil {
		return nil, trace.Wrap(err)
	}
	return msg, nil
}

// MarkRead sets the principal's read marker. Idempotent; views are
// invalidated only when the marker is new.
func (s *Service) MarkRead(ctx context.Context, p *authz.Principal, messageID string) error {
	msg, err := s.GetMessage(ctx, p, messageID)
	if err != nil {
		return trace.Wrap(err)
	}
	created, err := s.cfg.Services.MarkMessageRead(ctx, messageID, p.UserID)
	if err != nil {
		return trace.Wrap(err)
	}
	if created {
		s.invalidateReadMarker(ctx, p.UserID, msg)
	}
	return nil
}

// MarkUnread removes the principal's read marker. Idempotent.
func (s *Service) MarkUnread(ctx context.Context, p *authz.Principal, messageID string) error {
	msg, err := s.GetMessage(ctx, p, messageID)
	if err != nil {
		return trace.Wrap(err)
	}
	removed, err := s.cfg.Services.MarkMessageUnread(ctx, messageID, p.UserID)
	if err != nil {
		return trace.Wrap(err)
	}
	if removed {
		s.invalidateReadMarker(ctx, p.UserID, msg)
	}
	return nil
}

// CountUnread counts visible messages the principal has not read.
func (s *Service) CountUnread(ctx context.Context, p *authz.Principal) (int, error) {
	filter := s.cfg.Registry.BuildQuery(p, types.KindMessage, types.ActionList)
	count, err := s.cfg.Services.CountUnreadMessages(ctx, p.UserID, filter)
	return count, trace.Wrap(err)
}

// resourceFor loads the row metadata the permission handlers match
// against: the course context and, for group messages, the group's
// user set.
func (s *Service) resourceFor(ctx context.Context, msg *types.Message) (*authz.Resource, error) {
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
		member, err := s.cfg.Services.GetCourseMember(ctx, *msg.CourseMemberID)
		if err == nil {
			res.MemberUserID = member.UserID
		}
	}
	if msg.CourseGroupID != nil {
		res.CourseGroupID = *msg.CourseGroupID
	}
	if msg.SubmissionGroupID != nil {
		res.SubmissionGroupID = *msg.SubmissionGroupID
		userIDs, err := s.cfg.Services.ListSubmissionGroupUserIDs(ctx, *msg.SubmissionGroupID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		res.GroupUserIDs = userIDs
	}
	return res, nil
}

func (s *Service) invalidate(ctx context.Context, msg *types.Message) {
	if s.cfg.Invalidator == nil {
		return
	}
	tags := []cache.Tag{cache.NewTag(types.KindMessage, msg.ID)}
	if msg.CourseID != nil {
		tags = append(tags,
			cache.NewTag(types.KindCourse, *msg.CourseID),
			cache.NewTag("student_view", *msg.CourseID),
			cache.NewTag("tutor_view", *msg.CourseID),
		)
	}
	if kind, id := msg.PrimaryTarget(); kind != "" {
		tags = append(tags, cache.NewTag(kind, id))
	}
	if err := s.cfg.Invalidator.InvalidateTags(ctx, tags...); err != nil {
		s.log.WithError(err).Warn("View invalidation after message change failed.")
	}
}

// invalidateReadMarker drops the reader's views plus the views scoped
// to the message's target, so unread counts rendered from the entity
// side stay coherent.
func (s *Service) invalidateReadMarker(ctx context.Context, userID string, msg *types.Message) {
	if s.cfg.Invalidator == nil {
		return
	}
	tags := []cache.Tag{cache.UserTag(userID), cache.NewTag(types.KindMessage, msg.ID)}
	if msg.CourseID != nil {
		tags = append(tags, cache.NewTag(types.KindCourse, *msg.CourseID))
	}
	if kind, id := msg.PrimaryTarget(); kind != "" {
		tags = append(tags, cache.NewTag(kind, id))
	}
	if err := s.cfg.Invalidator.InvalidateTags(ctx, tags...); err != nil {
		s.log.WithError(err).Warn("View invalidation after read marker change failed.")
	}
}
