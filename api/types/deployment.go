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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// DeploymentStatus is the lifecycle state of a content deployment.
type DeploymentStatus string

const (
	// DeploymentPending means an example version is assigned but the
	// release workflow has not picked it up.
	DeploymentPending DeploymentStatus = "pending"
	// DeploymentDeploying means the release workflow is running.
	DeploymentDeploying DeploymentStatus = "deploying"
	// DeploymentDeployed means the assignment is released to students.
	DeploymentDeployed DeploymentStatus = "deployed"
	// DeploymentFailed means the release workflow failed.
	DeploymentFailed DeploymentStatus = "failed"
	// DeploymentUnassigned means no example version is bound.
	DeploymentUnassigned DeploymentStatus = "unassigned"
)

// Check validates the deployment status.
func (s DeploymentStatus) Check() error {
	switch s {
	case DeploymentPending, DeploymentDeploying, DeploymentDeployed,
		DeploymentFailed, DeploymentUnassigned:
		return nil
	}
	return trace.BadParameter("unknown deployment status %q", s)
}

// InProgress returns true while the release workflow owns the row;
// unassignment is rejected in these states.
func (s DeploymentStatus) InProgress() bool {
	return s == DeploymentDeploying || s == DeploymentDeployed
}

// CourseContentDeployment binds a submittable content item to one
// example version. Each content item has at most one deployment row;
// rebinding mutates it in place while DeploymentHistory keeps the log.
type CourseContentDeployment struct {
	// ID is the unique identifier of the deployment.
	ID string `json:"id"`
	// CourseContentID is the bound content item, unique.
	CourseContentID string `json:"course_content_id"`
	// ExampleVersionID is the bound version, nil when unassigned.
	ExampleVersionID *string `json:"example_version_id,omitempty"`
	// ExampleIdentifier is a copy of the example's identifier path,
	// consulted by the identity rule on reassignment.
	ExampleIdentifier Path `json:"example_identifier,omitempty"`
	// VersionTag is the normalized semver tag of the bound version.
	VersionTag string `json:"version_tag,omitempty"`
	// Status is the lifecycle state.
	Status DeploymentStatus `json:"deployment_status"`
	// Message is the optional operator note for the assignment.
	Message string `json:"deployment_message,omitempty"`
	// DeploymentPath is where the release workflow materialized the
	// example, set on success.
	DeploymentPath *string `json:"deployment_path,omitempty"`
	// VersionIdentifier is the released example commit, set by the
	// release workflow.
	VersionIdentifier *string `json:"version_identifier,omitempty"`
	// WorkflowID is the release workflow execution id.
	WorkflowID *string `json:"workflow_id,omitempty"`
	// AssignedAt is when the current example version was bound.
	AssignedAt time.Time `json:"assigned_at"`
	// DeployedAt is when the release workflow last succeeded.
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the deployment row.
func (d *CourseContentDeployment) CheckAndSetDefaults() error {
	if d.CourseContentID == "" {
		return trace.BadParameter("missing parameter CourseContentID")
	}
	if d.Status == "" {
		d.Status = DeploymentUnassigned
	}
	if err := d.Status.Check(); err != nil {
		return trace.Wrap(err)
	}
	if d.Status != DeploymentUnassigned && d.ExampleVersionID == nil {
		return trace.BadParameter("assigned deployment requires ExampleVersionID")
	}
	return nil
}

// Released returns true once the release workflow has produced a
// testable reference, i.e. both deployment path and version identifier
// are recorded. Tests cannot be scheduled before this.
func (d *CourseContentDeployment) Released() bool {
	return d.DeploymentPath != nil && *d.DeploymentPath != "" &&
		d.VersionIdentifier != nil && *d.VersionIdentifier != ""
}

// DeploymentAction names a transition recorded in the history log.
type DeploymentAction string

const (
	// DeploymentActionAssigned is the first binding of an example.
	DeploymentActionAssigned DeploymentAction = "assigned"
	// DeploymentActionReassigned is a binding to a different example.
	DeploymentActionReassigned DeploymentAction = "reassigned"
	// DeploymentActionUpdated is a version bump of the same example.
	DeploymentActionUpdated DeploymentAction = "updated"
	// DeploymentActionUnassigned removed the binding.
	DeploymentActionUnassigned DeploymentAction = "unassigned"
	// DeploymentActionDeployStarted marks release workflow start.
	DeploymentActionDeployStarted DeploymentAction = "deploy_started"
	// DeploymentActionDeploySucceeded marks release success.
	DeploymentActionDeploySucceeded DeploymentAction = "deploy_succeeded"
	// DeploymentActionDeployFailed marks release failure.
	DeploymentActionDeployFailed DeploymentAction = "deploy_failed"
)

// Check validates the action name.
func (a DeploymentAction) Check() error {
	switch a {
	case DeploymentActionAssigned, DeploymentActionReassigned,
		DeploymentActionUpdated, DeploymentActionUnassigned,
		DeploymentActionDeployStarted, DeploymentActionDeploySucceeded,
		DeploymentActionDeployFailed:
		return nil
	}
	return trace.BadParameter("unknown deployment action %q", a)
}

// DeploymentHistory is one append-only log entry of a deployment
// transition. Entries are never updated or deleted.
type DeploymentHistory struct {
	// ID is the unique identifier of the entry.
	ID string `json:"id"`
	// DeploymentID is the deployment the entry belongs to.
	DeploymentID string `json:"deployment_id"`
	// Action is the recorded transition.
	Action DeploymentAction `json:"action"`
	// ActorUserID is who triggered the transition; empty for the
	// release workflow.
	ActorUserID string `json:"actor_user_id,omitempty"`
	// PreviousExampleVersionID is the binding before the transition.
	PreviousExampleVersionID *string `json:"previous_example_version_id,omitempty"`
	// NewExampleVersionID is the binding after the transition.
	NewExampleVersionID *string `json:"new_example_version_id,omitempty"`
	// VersionTag is the tag after the transition.
	VersionTag string `json:"version_tag,omitempty"`
	// Message is the operator note or workflow error.
	Message string `json:"message,omitempty"`
	// CreatedAt orders the log.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the history entry.
func (h *DeploymentHistory) CheckAndSetDefaults() error {
	if h.DeploymentID == "" {
		return trace.BadParameter("missing parameter DeploymentID")
	}
	if err := h.Action.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
