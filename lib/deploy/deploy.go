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

// Package deploy binds example versions to course content. Assignment
// is the DB-only first phase; the release workflow materializes the
// example afterwards and the engine reconciles its outcome back onto
// the deployment row. History is append-only.
package deploy

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/cache"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/taskexec"
)

// workflowName is the workflow type executed by the deploy workers.
const workflowName = "example-deploy"

// Config configures the engine.
type Config struct {
	// Services is the storage handle.
	Services services.Services
	// Executor submits release workflows.
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

// Engine assigns, releases, and unassigns content deployments.
type Engine struct {
	cfg Config
	log logrus.FieldLogger
}

// NewEngine returns a deployment engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentDeploy}),
	}, nil
}

// AssignRequest selects the example version either directly by id or
// by (identifier, tag).
type AssignRequest struct {
	// CourseContentID is the content item to bind.
	CourseContentID string
	// ExampleVersionID selects the version directly.
	ExampleVersionID string
	// ExampleIdentifier selects by example path; requires VersionTag.
	ExampleIdentifier types.Path
	// VersionTag is the semver tag, normalized before resolution.
	VersionTag string
	// Message is the optional operator note.
	Message string
}

// AssignExample binds an example version to a content item and returns
// the deployment with its full history. Binding a deployed content to
// a different example is rejected; version bumps stay allowed.
func (e *Engine) AssignExample(ctx context.Context, p *authz.Principal, req AssignRequest) (*types.CourseContentDeployment, []types.DeploymentHistory, error) {
	content, err := e.requireSubmittable(ctx, req.CourseContentID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := requireLecturer(p, content.CourseID); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	example, version, err := e.resolveVersion(ctx, req)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	now := e.cfg.Clock.Now().UTC()

	deployment, err := e.cfg.Services.GetDeploymentByContent(ctx, content.ID)
	if err != nil {
		if !trace.IsNotFound(err) {
			return nil, nil, trace.Wrap(err)
		}
		created, err := e.cfg.Services.CreateDeployment(ctx, &types.CourseContentDeployment{
			CourseContentID:   content.ID,
			ExampleVersionID:  &version.ID,
			ExampleIdentifier: example.Identifier,
			VersionTag:        version.VersionTag,
			Status:            types.DeploymentPending,
			Message:           req.Message,
			AssignedAt:        now,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		if err := e.appendHistory(ctx, created, types.DeploymentActionAssigned, p.UserID, nil, &version.ID, req.Message); err != nil {
			return nil, nil, trace.Wrap(err)
		}
		e.invalidate(ctx, content)
		return e.withHistory(ctx, created)
	}

	if deployment.ExampleVersionID != nil && *deployment.ExampleVersionID == version.ID &&
		deployment.Message == req.Message {
		return e.withHistory(ctx, deployment)
	}
	if deployment.Status == types.DeploymentDeployed && deployment.ExampleIdentifier != example.Identifier {
		return nil, nil, errcode.NewWithDetails(errcode.DeployIdentityMismatch,
			map[string]any{"deployed_example": string(deployment.ExampleIdentifier)},
			deployment.ExampleIdentifier, example.Identifier)
	}

	action := types.DeploymentActionUpdated
	if deployment.ExampleIdentifier != example.Identifier {
		action = types.DeploymentActionReassigned
	}
	previous := deployment.ExampleVersionID
	deployment.ExampleVersionID = &version.ID
	deployment.ExampleIdentifier = example.Identifier
	deployment.VersionTag = version.VersionTag
	deployment.Status = types.DeploymentPending
	deployment.Message = req.Message
	deployment.AssignedAt = now
	if err := e.cfg.Services.UpdateDeployment(ctx, deployment); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := e.appendHistory(ctx, deployment, action, p.UserID, previous, &version.ID, req.Message); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	e.invalidate(ctx, content)
	e.log.WithFields(logrus.Fields{
		"content_id":  content.ID,
		"example":     string(example.Identifier),
		"version_tag": version.VersionTag,
		"action":      string(action),
	}).Info("Assigned example version to content.")
	return e.withHistory(ctx, deployment)
}

// UnassignExample removes the binding. Rejected while the release
// workflow owns the row or the assignment is live.
func (e *Engine) UnassignExample(ctx context.Context, p *authz.Principal, contentID string) (*types.CourseContentDeployment, error) {
	content, err := e.requireSubmittable(ctx, contentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := requireLecturer(p, content.CourseID); err != nil {
		return nil, trace.Wrap(err)
	}
	deployment, err := e.cfg.Services.GetDeploymentByContent(ctx, content.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if deployment.Status.InProgress() {
		return nil, errcode.New(errcode.DeployInProgress, deployment.Status)
	}
	previous := deployment.ExampleVersionID
	deployment.ExampleVersionID = nil
	deployment.VersionTag = ""
	deployment.Status = types.DeploymentUnassigned
	if err := e.cfg.Services.UpdateDeployment(ctx, deployment); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := e.appendHistory(ctx, deployment, types.DeploymentActionUnassigned, p.UserID, previous, nil, ""); err != nil {
		return nil, trace.Wrap(err)
	}
	e.invalidate(ctx, content)
	return deployment, nil
}

// Release submits the deploy workflow for a pending or failed
// assignment and moves the row to deploying.
func (e *Engine) Release(ctx context.Context, p *authz.Principal, contentID string) (*types.CourseContentDeployment, error) {
	content, err := e.requireSubmittable(ctx, contentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := requireLecturer(p, content.CourseID); err != nil {
		return nil, trace.Wrap(err)
	}
	deployment, err := e.cfg.Services.GetDeploymentByContent(ctx, content.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if deployment.Status != types.DeploymentPending && deployment.Status != types.DeploymentFailed {
		return nil, errcode.New(errcode.DeployInProgress, deployment.Status)
	}
	version, err := e.cfg.Services.GetExampleVersion(ctx, *deployment.ExampleVersionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	workflowID := workflowName + "-" + uuid.NewString()
	parameters := map[string]any{
		"course_content_id":  content.ID,
		"example_identifier": string(deployment.ExampleIdentifier),
		"example_version_id": version.ID,
		"version_tag":        version.VersionTag,
		"storage_key":        version.StorageKey,
	}
	if _, err := e.cfg.Executor.SubmitTask(ctx, workflowName, workflowID, parameters, defaults.DeployWorkflowQueue); err != nil {
		return nil, errcode.Wrap(err, errcode.ExtWorkflowEngine)
	}
	deployment.Status = types.DeploymentDeploying
	deployment.WorkflowID = &workflowID
	if err := e.cfg.Services.UpdateDeployment(ctx, deployment); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := e.appendHistory(ctx, deployment, types.DeploymentActionDeployStarted, p.UserID, deployment.ExampleVersionID, deployment.ExampleVersionID, ""); err != nil {
		return nil, trace.Wrap(err)
	}
	e.invalidate(ctx, content)
	e.log.WithFields(logrus.Fields{
		"content_id":  content.ID,
		"workflow_id": workflowID,
	}).Info("Started release workflow.")
	return deployment, nil
}

// GetDeployment returns the deployment with history, reconciling a
// deploying row against the workflow engine first.
func (e *Engine) GetDeployment(ctx context.Context, p *authz.Principal, contentID string) (*types.CourseContentDeployment, []types.DeploymentHistory, error) {
	content, err := e.cfg.Services.GetCourseContent(ctx, contentID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if err := requireLecturer(p, content.CourseID); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	deployment, err := e.cfg.Services.GetDeploymentByContent(ctx, content.ID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if deployment.Status == types.DeploymentDeploying && deployment.WorkflowID != nil {
		if err := e.reconcileRelease(ctx, content, deployment); err != nil {
			return nil, nil, trace.Wrap(err)
		}
	}
	return e.withHistory(ctx, deployment)
}

// reconcileRelease folds the workflow outcome into the row. A finished
// workflow reports the materialized path and commit in its result.
func (e *Engine) reconcileRelease(ctx context.Context, content *types.CourseContent, deployment *types.CourseContentDeployment) error {
	info, err := e.cfg.Executor.GetTaskStatus(ctx, *deployment.WorkflowID)
	if err != nil {
		return errcode.Wrap(err, errcode.ExtWorkflowEngine)
	}
	if info.Status.Active() {
		return nil
	}
	now := e.cfg.Clock.Now().UTC()
	switch info.Status {
	case taskexec.StatusFinished:
		outcome, err := e.cfg.Executor.GetTaskResult(ctx, *deployment.WorkflowID)
		if err != nil {
			return errcode.Wrap(err, errcode.ExtWorkflowEngine)
		}
		var release struct {
			DeploymentPath    string `json:"deployment_path"`
			VersionIdentifier string `json:"version_identifier"`
		}
		if len(outcome.ResultJSON) > 0 {
			if err := json.Unmarshal(outcome.ResultJSON, &release); err != nil {
				return trace.BadParameter("malformed release workflow result: %v", err)
			}
		}
		deployment.Status = types.DeploymentDeployed
		deployment.DeployedAt = &now
		if release.DeploymentPath != "" {
			deployment.DeploymentPath = &release.DeploymentPath
		}
		if release.VersionIdentifier != "" {
			deployment.VersionIdentifier = &release.VersionIdentifier
		}
		if err := e.cfg.Services.UpdateDeployment(ctx, deployment); err != nil {
			return trace.Wrap(err)
		}
		if err := e.appendHistory(ctx, deployment, types.DeploymentActionDeploySucceeded, "", deployment.ExampleVersionID, deployment.ExampleVersionID, ""); err != nil {
			return trace.Wrap(err)
		}
	default:
		outcome, _ := e.cfg.Executor.GetTaskResult(ctx, *deployment.WorkflowID)
		deployment.Status = types.DeploymentFailed
		if err := e.cfg.Services.UpdateDeployment(ctx, deployment); err != nil {
			return trace.Wrap(err)
		}
		msg := ""
		if outcome != nil {
			msg = outcome.Error
		}
		if err := e.appendHistory(ctx, deployment, types.DeploymentActionDeployFailed, "", deployment.ExampleVersionID, deployment.ExampleVersionID, msg); err != nil {
			return trace.Wrap(err)
		}
	}
	e.invalidate(ctx, content)
	e.log.WithFields(logrus.Fields{
		"content_id": content.ID,
		"status":     string(deployment.Status),
	}).Info("Reconciled release workflow outcome.")
	return nil
}

// CheckItem is one row of a batch assignment validation.
type CheckItem struct {
	// CourseContentID is the target content item.
	CourseContentID string
	// ExampleIdentifier names the example to bind.
	ExampleIdentifier types.Path
	// VersionTag is the requested tag, normalized before lookup.
	VersionTag string
}

// CheckResult reports resolvability for one item.
type CheckResult struct {
	// CourseContentID echoes the item.
	CourseContentID string `json:"course_content_id"`
	// ExampleExists is true when the identifier resolves.
	ExampleExists bool `json:"example_exists"`
	// VersionExists is true when the tag resolves on the example.
	VersionExists bool `json:"version_exists"`
	// ErrorMessage explains a failed resolution.
	ErrorMessage string `json:"error_message,omitempty"`
}

// ValidateAssignments resolves a batch of (identifier, tag) pairs with
// set lookups instead of per-item queries.
func (e *Engine) ValidateAssignments(ctx context.Context, p *authz.Principal, courseID string, items []CheckItem) ([]CheckResult, error) {
	if err := requireLecturer(p, courseID); err != nil {
		return nil, trace.Wrap(err)
	}
	identifiers := make([]types.Path, 0, len(items))
	seen := make(map[types.Path]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ExampleIdentifier]; ok {
			continue
		}
		seen[item.ExampleIdentifier] = struct{}{}
		identifiers = append(identifiers, item.ExampleIdentifier)
	}
	examples, err := e.cfg.Services.ListExamplesByIdentifiers(ctx, identifiers)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// one version-set per distinct example found
	versions := make(map[string]map[string]struct{}, len(examples))
	for _, example := range examples {
		list, err := e.cfg.Services.ListExampleVersions(ctx, example.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tags := make(map[string]struct{}, len(list))
		for _, v := range list {
			tags[v.VersionTag] = struct{}{}
		}
		versions[example.ID] = tags
	}

	results := make([]CheckResult, 0, len(items))
	for _, item := range items {
		result := CheckResult{CourseContentID: item.CourseContentID}
		example, ok := examples[item.ExampleIdentifier]
		if !ok {
			result.ErrorMessage = "example " + string(item.ExampleIdentifier) + " not found"
			results = append(results, result)
			continue
		}
		result.ExampleExists = true
		tag, err := NormalizeVersionTag(item.VersionTag)
		if err != nil {
			result.ErrorMessage = err.Error()
			results = append(results, result)
			continue
		}
		if _, ok := versions[example.ID][tag]; !ok {
			result.ErrorMessage = "example " + string(item.ExampleIdentifier) + " has no version " + tag
			results = append(results, result)
			continue
		}
		result.VersionExists = true
		results = append(results, result)
	}
	return results, nil
}

func (e *Engine) requireSubmittable(ctx context.Context, contentID string) (*types.CourseContent, error) {
	content, err := e.cfg.Services.GetCourseContent(ctx, contentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	contentType, err := e.cfg.Services.GetCourseContentType(ctx, content.CourseContentTypeID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !contentType.Kind.Submittable() {
		return nil, errcode.New(errcode.ValNotSubmittable, content.Title)
	}
	return content, nil
}

func (e *Engine) resolveVersion(ctx context.Context, req AssignRequest) (*types.Example, *types.ExampleVersion, error) {
	if req.ExampleVersionID != "" {
		version, err := e.cfg.Services.GetExampleVersion(ctx, req.ExampleVersionID)
		if err != nil {
			if trace.IsNotFound(err) {
				return nil, nil, errcode.New(errcode.DeployVersionNotFound, req.ExampleVersionID)
			}
			return nil, nil, trace.Wrap(err)
		}
		example, err := e.cfg.Services.GetExample(ctx, version.ExampleID)
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		return example, version, nil
	}
	if req.ExampleIdentifier == "" || req.VersionTag == "" {
		return nil, nil, errcode.New(errcode.ValInvalidRequest, "either example_version_id or (example_identifier, version_tag) is required")
	}
	tag, err := NormalizeVersionTag(req.VersionTag)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	example, err := e.cfg.Services.GetExampleByIdentifier(ctx, req.ExampleIdentifier)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, errcode.New(errcode.DeployVersionNotFound, req.ExampleIdentifier)
		}
		return nil, nil, trace.Wrap(err)
	}
	version, err := e.cfg.Services.GetExampleVersionByTag(ctx, example.ID, tag)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, errcode.New(errcode.DeployVersionNotFound, string(example.Identifier)+"@"+tag)
		}
		return nil, nil, trace.Wrap(err)
	}
	return example, version, nil
}

func (e *Engine) appendHistory(ctx context.Context, d *types.CourseContentDeployment, action types.DeploymentAction, actorUserID string, previous, next *string, message string) error {
	_, err := e.cfg.Services.AppendDeploymentHistory(ctx, &types.DeploymentHistory{
		DeploymentID:             d.ID,
		Action:                   action,
		ActorUserID:              actorUserID,
		PreviousExampleVersionID: previous,
		NewExampleVersionID:      next,
		VersionTag:               d.VersionTag,
		Message:                  message,
	})
	if err == nil {
		deploymentActions.WithLabelValues(string(action)).Inc()
	}
	return trace.Wrap(err)
}

func (e *Engine) withHistory(ctx context.Context, d *types.CourseContentDeployment) (*types.CourseContentDeployment, []types.DeploymentHistory, error) {
	history, err := e.cfg.Services.ListDeploymentHistory(ctx, d.ID)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return d, history, nil
}

func (e *Engine) invalidate(ctx context.Context, content *types.CourseContent) {
	if e.cfg.Invalidator == nil {
		return
	}
	if err := e.cfg.Invalidator.InvalidateTags(ctx,
		cache.NewTag(types.KindCourseContent, content.ID),
		cache.NewTag("lecturer_view", content.CourseID),
		cache.NewTag("student_view", content.CourseID),
	); err != nil {
		e.log.WithError(err).Warn("View invalidation after deployment change failed.")
	}
}

func requireLecturer(p *authz.Principal, courseID string) error {
	if p.IsAdmin || p.HasCourseRole(courseID, types.CourseRoleLecturer) {
		return nil
	}
	return errcode.New(errcode.PermInsufficientRole, types.CourseRoleLecturer)
}
