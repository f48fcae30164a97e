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

// Package submissions ingests student uploads. Archives are validated,
// stored whole in the group's blob bucket, and recorded as immutable
// SubmissionArtifact rows; every successful mutation invalidates the
// affected aggregated views.
package submissions

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/blob"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/utils"
)

// Config configures the submission service.
type Config struct {
	// Services is the storage handle.
	Services services.Services
	// Blob stores the uploaded archives.
	Blob blob.Store
	// Invalidator drops stale cached views after mutations.
	Invalidator *cache.Invalidator
	// MaxUploadSize caps the uncompressed archive size in bytes.
	MaxUploadSize int64
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Blob == nil {
		return trace.BadParameter("missing parameter Blob")
	}
	if c.Invalidator == nil {
		return trace.BadParameter("missing parameter Invalidator")
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = defaults.MaxUploadSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service ingests uploads and manages submission groups.
type Service struct {
	cfg Config
	log logrus.FieldLogger
}

// NewService returns a submission service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentSubmissions}),
	}, nil
}

// UploadRequest carries one archive upload.
type UploadRequest struct {
	// SubmissionGroupID is the target group.
	SubmissionGroupID string
	// Filename is the client-side file name, must end in .zip.
	Filename string
	// ContentType is the announced MIME type.
	ContentType string
	// Data is the raw archive.
	Data []byte
	// VersionIdentifier distinguishes uploads, typically a commit
	// hash; generated when empty.
	VersionIdentifier string
	// Submit marks the upload as an official submission.
	Submit bool
}

// Upload validates and stores one archive and records the artifact.
func (s *Service) Upload(ctx context.Context, p *authz.Principal, req UploadRequest) (*types.SubmissionArtifact, error) {
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, req.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	memberID, err := s.requireGroupAccess(ctx, p, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
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
	if content.ExecutionBackendID == nil {
		return nil, errcode.New(errcode.ValNoBackend, content.Title)
	}
	if err := s.validateArchive(req.Filename, req.Data); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Submit {
		if err := s.checkSubmissionQuota(ctx, group, content); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	version := req.VersionIdentifier
	if version == "" {
		version, err = utils.CryptoRandomHex(8)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	rand, err := utils.CryptoRandomHex(4)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objectKey := fmt.Sprintf("submission-%s-%s/%s",
		s.cfg.Clock.Now().UTC().Format("20060102T150405Z"), rand, req.Filename)

	if err := s.cfg.Blob.EnsureBucket(ctx, group.ID); err != nil {
		return nil, errcode.Wrap(err, errcode.ExtBlobStorage)
	}
	if err := s.cfg.Blob.Put(ctx, group.ID, objectKey, req.Data, req.ContentType); err != nil {
		return nil, errcode.Wrap(err, errcode.ExtBlobStorage)
	}

	artifact, err := s.cfg.Services.CreateSubmissionArtifact(ctx, &types.SubmissionArtifact{
		SubmissionGroupID:      group.ID,
		UploaderCourseMemberID: memberID,
		Bucket:                 group.ID,
		ObjectKey:              objectKey,
		Filename:               req.Filename,
		ContentType:            req.ContentType,
		Size:                   int64(len(req.Data)),
		VersionIdentifier:      version,
		Submit:                 req.Submit,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.invalidateGroupViews(ctx, group, content); err != nil {
		s.log.WithError(err).Warn("View invalidation after upload failed.")
	}
	s.log.WithFields(logrus.Fields{
		"group_id":    group.ID,
		"artifact_id": artifact.ID,
		"version":     version,
		"size":        artifact.Size,
	}).Info("Stored submission.")
	return artifact, nil
}

// UpdateArtifact edits the only mutable artifact fields, Submit and
// Properties, restricted to the uploader or an elevated role.
func (s *Service) UpdateArtifact(ctx context.Context, p *authz.Principal, artifactID string, submit *bool, properties map[string]any) (*types.SubmissionArtifact, error) {
	artifact, err := s.cfg.Services.GetSubmissionArtifact(ctx, artifactID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, artifact.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !p.IsAdmin && !p.HasCourseRole(group.CourseID, types.CourseRoleTutor) {
		if artifact.UploaderCourseMemberID != p.MemberIDIn(group.CourseID) {
			return nil, errcode.New(errcode.PermAuthorOnly)
		}
	}
	if submit != nil {
		artifact.Submit = *submit
	}
	if properties != nil {
		artifact.Properties = properties
	}
	if err := s.cfg.Services.UpdateSubmissionArtifact(ctx, artifact); err != nil {
		return nil, trace.Wrap(err)
	}
	content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.invalidateGroupViews(ctx, group, content); err != nil {
		s.log.WithError(err).Warn("View invalidation after artifact edit failed.")
	}
	return artifact, nil
}

// Download fetches the stored archive of an artifact.
func (s *Service) Download(ctx context.Context, p *authz.Principal, artifactID string) (*types.SubmissionArtifact, []byte, error) {
	artifact, err := s.cfg.Services.GetSubmissionArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, artifact.SubmissionGroupID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if _, err := s.requireGroupAccess(ctx, p, group); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	data, err := s.cfg.Blob.Get(ctx, artifact.Bucket, artifact.ObjectKey)
	if err != nil {
		return nil, nil, errcode.Wrap(err, errcode.ExtBlobStorage)
	}
	return artifact, data, nil
}

// requireGroupAccess admits group members and course staff, returning
// the caller's member id in the group's course (empty for admins).
func (s *Service) requireGroupAccess(ctx context.Context, p *authz.Principal, group *types.SubmissionGroup) (string, error) {
	memberID := p.MemberIDIn(group.CourseID)
	if p.IsAdmin || p.HasCourseRole(group.CourseID, types.CourseRoleTutor) {
		return memberID, nil
	}
	if memberID == "" {
		return "", errcode.New(errcode.PermNotCourseMember, group.CourseID)
	}
	members, err := s.cfg.Services.ListSubmissionGroupMembers(ctx, group.ID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	for _, m := range members {
		if m.CourseMemberID == memberID {
			return memberID, nil
		}
	}
	return "", errcode.New(errcode.PermNotGroupMember, group.ID)
}

// validateArchive enforces the upload preconditions: a parseable zip
// with at least one non-empty file and a bounded uncompressed size.
func (s *Service) validateArchive(filename string, data []byte) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return errcode.New(errcode.SubNotZip)
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		return errcode.New(errcode.SubTooLarge, s.cfg.MaxUploadSize)
	}
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errcode.New(errcode.SubNotZip)
	}
	if len(reader.File) > defaults.MaxUploadFiles {
		return errcode.New(errcode.ValInvalidRequest, fmt.Sprintf("archive holds more than %d files", defaults.MaxUploadFiles))
	}
	var total uint64
	nonEmpty := false
	for _, f := range reader.File {
		total += f.UncompressedSize64
		if !f.FileInfo().IsDir() && f.UncompressedSize64 > 0 {
			nonEmpty = true
		}
	}
	if total > uint64(s.cfg.MaxUploadSize) {
		return errcode.New(errcode.SubTooLarge, s.cfg.MaxUploadSize)
	}
	if !nonEmpty {
		return errcode.New(errcode.SubEmptyArchive)
	}
	return nil
}

// checkSubmissionQuota enforces max_submissions, group setting first,
// content default second.
func (s *Service) checkSubmissionQuota(ctx context.Context, group *types.SubmissionGroup, content *types.CourseContent) error {
	limit := group.MaxSubmissions
	if limit == nil {
		limit = content.MaxSubmissions
	}
	if limit == nil {
		return nil
	}
	count, err := s.cfg.Services.CountSubmissionArtifacts(ctx, group.ID, true)
	if err != nil {
		return trace.Wrap(err)
	}
	if count >= *limit {
		return errcode.NewWithDetails(errcode.SubQuotaReached,
			map[string]any{"max_submissions": *limit}, *limit)
	}
	return nil
}

// invalidateGroupViews drops every cached view that joined this group,
// its content, its course, or any group member's user tag.
func (s *Service) invalidateGroupViews(ctx context.Context, group *types.SubmissionGroup, content *types.CourseContent) error {
	tags := []cache.Tag{
		cache.NewTag(types.KindSubmissionGroup, group.ID),
		cache.NewTag(types.KindCourseContent, content.ID),
		cache.NewTag(types.KindCourse, group.CourseID),
		cache.NewTag("student_view", group.CourseID),
		cache.NewTag("tutor_view", group.CourseID),
		cache.NewTag("lecturer_view", group.CourseID),
	}
	userIDs, err := s.cfg.Services.ListSubmissionGroupUserIDs(ctx, group.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, userID := range userIDs {
		tags = append(tags, cache.UserTag(userID))
	}
	return trace.Wrap(s.cfg.Invalidator.InvalidateTags(ctx, tags...))
}
