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

// SubmissionArtifact is one uploaded ZIP archive, stored as a whole in
// blob storage. Rows are immutable after creation except for the
// Submit flag and free-form Properties.
type SubmissionArtifact struct {
	// ID is the unique identifier of the artifact.
	ID string `json:"id"`
	// SubmissionGroupID is the owning group.
	SubmissionGroupID string `json:"submission_group_id"`
	// UploaderCourseMemberID is the member who uploaded the archive.
	UploaderCourseMemberID string `json:"uploader_course_member_id"`
	// Bucket is the blob storage bucket, named after the group.
	Bucket string `json:"bucket"`
	// ObjectKey locates the archive inside the bucket.
	ObjectKey string `json:"object_key"`
	// Filename is the original upload filename.
	Filename string `json:"filename"`
	// ContentType is the MIME type announced by the client.
	ContentType string `json:"content_type,omitempty"`
	// Size is the archive size in bytes as stored.
	Size int64 `json:"size"`
	// VersionIdentifier distinguishes uploads of the same group,
	// typically a commit hash.
	VersionIdentifier string `json:"version_identifier"`
	// Submit marks official submissions as opposed to practice runs.
	Submit bool `json:"submit"`
	// Properties is free-form metadata editable by the uploader.
	Properties map[string]any `json:"properties,omitempty"`
	// CreatedAt is the upload timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the artifact row.
func (a *SubmissionArtifact) CheckAndSetDefaults() error {
	if a.SubmissionGroupID == "" {
		return trace.BadParameter("missing parameter SubmissionGroupID")
	}
	if a.Bucket == "" {
		return trace.BadParameter("missing parameter Bucket")
	}
	if a.ObjectKey == "" {
		return trace.BadParameter("missing parameter ObjectKey")
	}
	if a.Size < 0 {
		return trace.BadParameter("Size cannot be negative")
	}
	return nil
}

// GradeStatus is the review verdict attached to a grade.
type GradeStatus string

const (
	// GradeStatusNotReviewed means the work has not been looked at.
	GradeStatusNotReviewed GradeStatus = "not_reviewed"
	// GradeStatusImprovementPossible asks the student to resubmit.
	GradeStatusImprovementPossible GradeStatus = "improvement_possible"
	// GradeStatusCorrected marks the review as final.
	GradeStatusCorrected GradeStatus = "corrected"
)

// Check validates the grade status.
func (s GradeStatus) Check() error {
	switch s {
	case GradeStatusNotReviewed, GradeStatusImprovementPossible, GradeStatusCorrected:
		return nil
	}
	return trace.BadParameter("grade status must be one of %q, %q, %q, got %q",
		GradeStatusNotReviewed, GradeStatusImprovementPossible, GradeStatusCorrected, s)
}

// SubmissionGrade is a tutor-supplied grade on an artifact. Multiple
// grades per artifact are kept; the latest by creation time is the
// effective one. Rows may only be edited by their author.
type SubmissionGrade struct {
	// ID is the unique identifier of the grade.
	ID string `json:"id"`
	// SubmissionArtifactID is the graded artifact.
	SubmissionArtifactID string `json:"submission_artifact_id"`
	// GradedByCourseMemberID is the grading tutor or lecturer.
	GradedByCourseMemberID string `json:"graded_by_course_member_id"`
	// Grade is the score in [0.0, 1.0].
	Grade float64 `json:"grade"`
	// Status is the review verdict.
	Status GradeStatus `json:"status"`
	// Comment is optional feedback text.
	Comment string `json:"comment,omitempty"`
	// CreatedAt orders grades; the latest wins.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the grade row.
func (g *SubmissionGrade) CheckAndSetDefaults() error {
	if g.SubmissionArtifactID == "" {
		return trace.BadParameter("missing parameter SubmissionArtifactID")
	}
	if g.GradedByCourseMemberID == "" {
		return trace.BadParameter("missing parameter GradedByCourseMemberID")
	}
	if g.Grade < 0 || g.Grade > 1 {
		return trace.BadParameter("grade must be within [0.0, 1.0], got %v", g.Grade)
	}
	if g.Status == "" {
		g.Status = GradeStatusNotReviewed
	}
	if err := g.Status.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
