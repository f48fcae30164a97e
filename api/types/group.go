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

// SubmissionGroup is the unit of attribution for uploads and test runs
// against one content item. Groups hold 1..MaxGroupSize course members;
// a member belongs to at most one group per content item, and the
// group's course always equals the content's course.
type SubmissionGroup struct {
	// ID is the unique identifier of the group.
	ID string `json:"id"`
	// CourseID is the owning course, copied from the content.
	CourseID string `json:"course_id"`
	// CourseContentID is the content item the group submits against.
	CourseContentID string `json:"course_content_id"`
	// MaxGroupSize caps the member count.
	MaxGroupSize int `json:"max_group_size"`
	// MaxSubmissions caps official submissions when set.
	MaxSubmissions *int `json:"max_submissions,omitempty"`
	// MaxTestRuns caps test executions per artifact when set.
	MaxTestRuns *int `json:"max_test_runs,omitempty"`
	// JoinCode lets additional members join the group when set.
	JoinCode *string `json:"-"`
	// RequiresApproval queues join requests for lecturer approval
	// instead of admitting members directly.
	RequiresApproval bool `json:"requires_approval,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the group row.
func (g *SubmissionGroup) CheckAndSetDefaults() error {
	if g.CourseID == "" {
		return trace.BadParameter("missing parameter CourseID")
	}
	if g.CourseContentID == "" {
		return trace.BadParameter("missing parameter CourseContentID")
	}
	if g.MaxGroupSize < 0 {
		return trace.BadParameter("MaxGroupSize cannot be negative")
	}
	if g.MaxGroupSize == 0 {
		g.MaxGroupSize = 1
	}
	if g.MaxSubmissions != nil && *g.MaxSubmissions < 1 {
		return trace.BadParameter("MaxSubmissions must be positive when set")
	}
	if g.MaxTestRuns != nil && *g.MaxTestRuns < 1 {
		return trace.BadParameter("MaxTestRuns must be positive when set")
	}
	return nil
}

// SubmissionGroupMember places a course member in a submission group.
type SubmissionGroupMember struct {
	// ID is the unique identifier of the row.
	ID string `json:"id"`
	// SubmissionGroupID is the group.
	SubmissionGroupID string `json:"submission_group_id"`
	// CourseMemberID is the member.
	CourseMemberID string `json:"course_member_id"`
	// CreatedAt is the join timestamp.
	CreatedAt time.Time `json:"created_at"`
}
