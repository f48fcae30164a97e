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

// Package testruns schedules automated test executions. The scheduler
// gates each request, pre-mints the workflow id, records the Result
// row before submitting to the workflow engine, and reconciles local
// statuses from engine state on every status query. The partial
// uniqueness guard in storage keeps at most one non-terminal result
// per (member, content, version) even under racing requests.
package testruns

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/taskexec"
)

// workflowName is the workflow type executed by the testing workers.
const workflowName = "student-testing"

// Config configures the scheduler.
type Config struct {
	// Services is the storage handle.
	Services services.Services
	// Executor submits tasks to the workflow engine.
	Executor taskexec.Executor
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
	if c.Executor == nil {
		return trace.BadParameter("missing parameter Executor")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Scheduler creates and reconciles test runs.
type Scheduler struct {
	cfg Config
	log logrus.FieldLogger
}

// NewScheduler returns a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentScheduler}),
	}, nil
}

// CreateTestRequest selects the artifact to test, exactly one way:
// directly by artifact id, by group and version, or the group's latest
// upload.
type CreateTestRequest struct {
	// ArtifactID selects an artifact directly.
	ArtifactID string
	// SubmissionGroupID selects from a group.
	SubmissionGroupID string
	// VersionIdentifier narrows the group selection to one version.
	VersionIdentifier string
}

// CreateTest gates and schedules one test run.
func (s *Scheduler) CreateTest(ctx context.Context, p *authz.Principal, req CreateTestRequest) (*types.Result, error) {
	artifact, err := s.resolveArtifact(ctx, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, artifact.SubmissionGroupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	memberID, err := s.requireGroupAccess(ctx, p, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if memberID == "" {
		// admins without a membership run on behalf of the uploader
		memberID = artifact.UploaderCourseMemberID
	}
	content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if content.ExecutionBackendID == nil {
		return nil, errcode.New(errcode.ValNoBackend, content.Title)
	}
	backend, err := s.cfg.Services.GetExecutionBackend(ctx, *content.ExecutionBackendID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deployment, err := s.cfg.Services.GetDeploymentByContent(ctx, content.ID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, errcode.New(errcode.TestNotReleased)
		}
		return nil, trace.Wrap(err)
	}
	if !deployment.Released() {
		return nil, errcode.New(errcode.TestNotReleased)
	}

	// reconcile any local result that still looks active before
	// deciding whether a new run is allowed
	existing, err := s.cfg.Services.ListResultsForArtifact(ctx, artifact.ID, memberID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range existing {
		result := &existing[i]
		if result.Status.IsTerminal() {
			continue
		}
		reconciled, active, err := s.reconcile(ctx, result)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if active {
			return reconciled, errcode.NewWithDetails(errcode.TestAlreadyRunning,
				map[string]any{"result_id": reconciled.ID}, reconciled.ID)
		}
	}
	finished, err := s.cfg.Services.FindResultByVersion(ctx, memberID, content.ID, artifact.VersionIdentifier)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, r := range finished {
		if r.Status == types.ResultFinished {
			return nil, errcode.New(errcode.TestAlreadyFinished)
		}
	}
	if err := s.checkRunQuota(ctx, group, content, artifact); err != nil {
		return nil, trace.Wrap(err)
	}

	workflowID := workflowName + "-" + uuid.NewString()
	result := &types.Result{
		SubmissionArtifactID: artifact.ID,
		CourseMemberID:       memberID,
		CourseContentID:      content.ID,
		CourseContentTypeID:  content.CourseContentTypeID,
		ExecutionBackendID:   backend.ID,
		TestSystemID:         workflowID,
		Status:               types.ResultScheduled,
		VersionIdentifier:    artifact.VersionIdentifier,
	}
	if deployment.VersionIdentifier != nil {
		result.ReferenceVersionIdentifier = *deployment.VersionIdentifier
	}
	created, err := s.cfg.Services.CreateResult(ctx, result)
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, errcode.New(errcode.TestAlreadyRunning, artifact.VersionIdentifier)
		}
		return nil, trace.Wrap(err)
	}

	parameters := map[string]any{
		"artifact_bucket":     artifact.Bucket,
		"artifact_object_key": artifact.ObjectKey,
		"version_identifier":  artifact.VersionIdentifier,
		"result_id":           created.ID,
	}
	if deployment.DeploymentPath != nil {
		parameters["reference_path"] = *deployment.DeploymentPath
	}
	if deployment.VersionIdentifier != nil {
		parameters["reference_version"] = *deployment.VersionIdentifier
	}
	if _, err := s.cfg.Executor.SubmitTask(ctx, workflowName, workflowID, parameters, backend.TaskQueue()); err != nil {
		created.Status = types.ResultFailed
		now := s.cfg.Clock.Now().UTC()
		created.FinishedAt = &now
		created.Properties = map[string]any{"submission_error": err.Error()}
		if uerr := s.cfg.Services.UpdateResult(ctx, created); uerr != nil {
			s.log.WithError(uerr).Error("Failed to record workflow submission failure.")
		}
		return nil, errcode.Wrap(err, errcode.TestSubmitFailed)
	}
	testRunsScheduled.Inc()
	s.invalidateResultViews(ctx, group, content)
	s.log.WithFields(logrus.Fields{
		"result_id":   created.ID,
		"workflow_id": workflowID,
		"queue":       backend.TaskQueue(),
	}).Info("Scheduled test run.")
	return created, nil
}

// GetTestStatus returns a result, reconciling it with the workflow
// engine first when it still looks active.
func (s *Scheduler) GetTestStatus(ctx context.Context, p *authz.Principal, resultID string) (*types.Result, error) {
	result, err := s.cfg.Services.GetResult(ctx, resultID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	group, err := s.cfg.Services.GetSubmissionGroup(ctx, s.groupIDOf(ctx, result))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.requireGroupAccess(ctx, p, group); err != nil {
		return nil, trace.Wrap(err)
	}
	if result.Status.IsTerminal() {
		return result, nil
	}
	reconciled, _, err := s.reconcile(ctx, result)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if reconciled.Status.IsTerminal() {
		content, err := s.cfg.Services.GetCourseContent(ctx, group.CourseContentID)
		if err == nil {
			s.invalidateResultViews(ctx, group, content)
		}
	}
	return reconciled, nil
}

func (s *Scheduler) groupIDOf(ctx context.Context, result *types.Result) string {
	artifact, err := s.cfg.Services.GetSubmissionArtifact(ctx, result.SubmissionArtifactID)
	if err != nil {
		return ""
	}
	return artifact.SubmissionGroupID
}

// resolveArtifact picks the artifact per the request shape.
func (s *Scheduler) resolveArtifact(ctx context.Context, req CreateTestRequest) (*types.SubmissionArtifact, error) {
	switch {
	case req.ArtifactID != "":
		return s.cfg.Services.GetSubmissionArtifact(ctx, req.ArtifactID)
	case req.SubmissionGroupID != "" && req.VersionIdentifier != "":
		return s.cfg.Services.GetSubmissionArtifactByVersion(ctx, req.SubmissionGroupID, req.VersionIdentifier)
	case req.SubmissionGroupID != "":
		return s.cfg.Services.GetLatestSubmissionArtifact(ctx, req.SubmissionGroupID)
	}
	return nil, errcode.New(errcode.ValInvalidRequest, "either artifact_id or submission_group_id is required")
}

// requireGroupAccess admits group members and course staff, returning
// the caller's member id (empty for admins without membership).
func (s *Scheduler) requireGroupAccess(ctx context.Context, p *authz.Principal, group *types.SubmissionGroup) (string, error) {
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

// reconcile maps the engine state of a non-terminal result back onto
// the row. Returns the possibly updated result and whether the engine
// still owns the run.
func (s *Scheduler) reconcile(ctx context.Context, result *types.Result) (*types.Result, bool, error) {
	info, err := s.cfg.Executor.GetTaskStatus(ctx, result.TestSystemID)
	if err != nil {
		return nil, false, errcode.Wrap(err, errcode.ExtWorkflowEngine)
	}
	if info.Status.Active() {
		if info.Status == taskexec.StatusStarted && result.Status != types.ResultRunning {
			now := s.cfg.Clock.Now().UTC()
			result.Status = types.ResultRunning
			result.StartedAt = &now
			if err := s.cfg.Services.UpdateResult(ctx, result); err != nil {
				return nil, false, trace.Wrap(err)
			}
		}
		return result, true, nil
	}

	next := info.Status.ResultStatus()
	if result.Status == next {
		return result, false, nil
	}
	now := s.cfg.Clock.Now().UTC()
	result.Status = next
	result.FinishedAt = &now
	if next == types.ResultFinished || next == types.ResultFailed {
		outcome, err := s.cfg.Executor.GetTaskResult(ctx, result.TestSystemID)
		if err == nil {
			if len(outcome.ResultJSON) > 0 {
				result.ResultJSON = outcome.ResultJSON
			}
			if outcome.Error != "" {
				if result.Properties == nil {
					result.Properties = map[string]any{}
				}
				result.Properties["workflow_error"] = outcome.Error
			}
		}
	}
	if err := s.cfg.Services.UpdateResult(ctx, result); err != nil {
		return nil, false, trace.Wrap(err)
	}
	testRunsReconciled.WithLabelValues(result.Status.String()).Inc()
	s.log.WithFields(logrus.Fields{
		"result_id": result.ID,
		"status":    result.Status.String(),
	}).Debug("Reconciled result from engine state.")
	return result, false, nil
}

// checkRunQuota enforces max_test_runs, group setting first, content
// default second. The count is scoped to the artifact, so uploading a
// new version grants a fresh budget.
func (s *Scheduler) checkRunQuota(ctx context.Context, group *types.SubmissionGroup, content *types.CourseContent, artifact *types.SubmissionArtifact) error {
	limit := group.MaxTestRuns
	if limit == nil {
		limit = content.MaxTestRuns
	}
	if limit == nil {
		return nil
	}
	count, err := s.cfg.Services.CountResultsForArtifact(ctx, artifact.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if count >= *limit {
		return errcode.NewWithDetails(errcode.TestQuotaReached,
			map[string]any{"max_test_runs": *limit}, *limit)
	}
	return nil
}

func (s *Scheduler) invalidateResultViews(ctx context.Context, group *types.SubmissionGroup, content *types.CourseContent) {
	if s.cfg.Invalidator == nil {
		return
	}
	tags := []cache.Tag{
		cache.NewTag(types.KindSubmissionGroup, group.ID),
		cache.NewTag(types.KindCourseContent, content.ID),
		cache.NewTag("student_view", group.CourseID),
		cache.NewTag("tutor_view", group.CourseID),
		cache.NewTag("lecturer_view", group.CourseID),
	}
	userIDs, err := s.cfg.Services.ListSubmissionGroupUserIDs(ctx, group.ID)
	if err == nil {
		for _, userID := range userIDs {
			tags = append(tags, cache.UserTag(userID))
		}
	}
	if err := s.cfg.Invalidator.InvalidateTags(ctx, tags...); err != nil {
		s.log.WithError(err).Warn("View invalidation after result change failed.")
	}
}
