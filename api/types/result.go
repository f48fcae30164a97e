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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gravitational/trace"
)

// ResultStatus is the lifecycle state of one test execution, stored as
// an integer. Values are wire-stable; never renumber.
type ResultStatus int

const (
	// ResultFinished means the run completed and produced a report.
	ResultFinished ResultStatus = 0
	// ResultFailed means the run completed unsuccessfully.
	ResultFailed ResultStatus = 1
	// ResultCancelled means the run was cancelled before completion.
	ResultCancelled ResultStatus = 2
	// ResultScheduled means the workflow was accepted but not started.
	ResultScheduled ResultStatus = 3
	// ResultPending means the run waits on an external dependency.
	ResultPending ResultStatus = 4
	// ResultRunning means the workflow is executing.
	ResultRunning ResultStatus = 5
	// ResultCrashed means the workflow was lost, timed out, or
	// terminated outside the normal paths.
	ResultCrashed ResultStatus = 6
	// ResultPaused means the run is suspended and may resume.
	ResultPaused ResultStatus = 7
)

var resultStatusNames = map[ResultStatus]string{
	ResultFinished:  "finished",
	ResultFailed:    "failed",
	ResultCancelled: "cancelled",
	ResultScheduled: "scheduled",
	ResultPending:   "pending",
	ResultRunning:   "running",
	ResultCrashed:   "crashed",
	ResultPaused:    "paused",
}

// String returns the lowercase name used on the wire.
func (s ResultStatus) String() string {
	if name, ok := resultStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Check validates that the status is a defined value.
func (s ResultStatus) Check() error {
	if _, ok := resultStatusNames[s]; !ok {
		return trace.BadParameter("unknown result status %d", int(s))
	}
	return nil
}

// ParseResultStatus converts a wire name back into a status.
func ParseResultStatus(name string) (ResultStatus, error) {
	for s, n := range resultStatusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, trace.BadParameter("unknown result status %q", name)
}

// IsTerminal returns true for states no reconciliation may leave.
func (s ResultStatus) IsTerminal() bool {
	switch s {
	case ResultFinished, ResultFailed, ResultCancelled, ResultCrashed:
		return true
	}
	return false
}

// reconcilable lists the states a non-terminal result may move to;
// these are exactly the images of the workflow status mapping.
var reconcilable = map[ResultStatus]bool{
	ResultScheduled: true,
	ResultRunning:   true,
	ResultFinished:  true,
	ResultFailed:    true,
	ResultCancelled: true,
	ResultCrashed:   true,
}

// CanTransition reports whether a stored result in state s may move to
// next. Terminal states are absorbing.
func (s ResultStatus) CanTransition(next ResultStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return reconcilable[next]
}

// MarshalJSON encodes the status as its integer value.
func (s ResultStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

// UnmarshalJSON accepts both the integer value and the wire name.
func (s *ResultStatus) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		parsed := ResultStatus(i)
		if err := parsed.Check(); err != nil {
			return trace.Wrap(err)
		}
		*s = parsed
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return trace.BadParameter("result status must be an integer or a name")
	}
	parsed, err := ParseResultStatus(name)
	if err != nil {
		return trace.Wrap(err)
	}
	*s = parsed
	return nil
}

// Result is the outcome of one test execution of an artifact. At most
// one result per (member, content, version) may be outside the failed,
// cancelled, and crashed states; the storage layer enforces this with
// a partial unique index.
type Result struct {
	// ID is the unique identifier of the result.
	ID string `json:"id"`
	// SubmissionArtifactID is the tested artifact.
	SubmissionArtifactID string `json:"submission_artifact_id"`
	// CourseMemberID is the member who requested the run.
	CourseMemberID string `json:"course_member_id"`
	// CourseContentID is the assignment under test.
	CourseContentID string `json:"course_content_id"`
	// CourseContentTypeID mirrors the content's type id. Kept for
	// now, can be removed later; never consulted for authorization.
	CourseContentTypeID string `json:"course_content_type_id,omitempty"`
	// ExecutionBackendID is the backend the run was dispatched to.
	ExecutionBackendID string `json:"execution_backend_id"`
	// TestSystemID is the opaque workflow id at the backend.
	TestSystemID string `json:"test_system_id"`
	// Status is the lifecycle state.
	Status ResultStatus `json:"status"`
	// Grade is the automated score in [0.0, 1.0], set on completion.
	Grade *float64 `json:"grade,omitempty"`
	// ResultJSON is the structured test report.
	ResultJSON json.RawMessage `json:"result_json,omitempty"`
	// LogText is the captured run log.
	LogText string `json:"log_text,omitempty"`
	// VersionIdentifier is copied from the artifact.
	VersionIdentifier string `json:"version_identifier"`
	// ReferenceVersionIdentifier is the deployed example version the
	// run tested against.
	ReferenceVersionIdentifier string `json:"reference_version_identifier,omitempty"`
	// Properties is free-form bookkeeping, e.g. submission errors.
	Properties map[string]any `json:"properties,omitempty"`
	// CreatedAt is the scheduling timestamp.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is set when the workflow reports execution start.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is set when the run reaches a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// UpdatedAt is the last reconciliation timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the result row.
func (r *Result) CheckAndSetDefaults() error {
	if r.SubmissionArtifactID == "" {
		return trace.BadParameter("missing parameter SubmissionArtifactID")
	}
	if r.CourseMemberID == "" {
		return trace.BadParameter("missing parameter CourseMemberID")
	}
	if r.CourseContentID == "" {
		return trace.BadParameter("missing parameter CourseContentID")
	}
	if r.TestSystemID == "" {
		return trace.BadParameter("missing parameter TestSystemID")
	}
	if err := r.Status.Check(); err != nil {
		return trace.Wrap(err)
	}
	if r.Grade != nil && (*r.Grade < 0 || *r.Grade > 1) {
		return trace.BadParameter("grade must be within [0.0, 1.0], got %v", *r.Grade)
	}
	return nil
}
