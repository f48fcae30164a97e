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

// CourseContentKind decides whether a content node can receive
// submissions or only structures the tree.
type CourseContentKind string

const (
	// ContentKindAssignment marks submittable content.
	ContentKindAssignment CourseContentKind = "assignment"
	// ContentKindUnit marks structural content (a folder node).
	ContentKindUnit CourseContentKind = "unit"
)

// Check validates the content kind.
func (k CourseContentKind) Check() error {
	switch k {
	case ContentKindAssignment, ContentKindUnit:
		return nil
	}
	return trace.BadParameter("content kind must be %q or %q, got %q",
		ContentKindAssignment, ContentKindUnit, k)
}

// Submittable returns true if content of this kind accepts submissions
// and deployments.
func (k CourseContentKind) Submittable() bool {
	return k == ContentKindAssignment
}

// CourseContentType classifies content nodes within one course, e.g.
// "weekly assignment" or "lecture unit". The kind decides whether
// typed nodes are submittable.
type CourseContentType struct {
	// ID is the unique identifier of the type.
	ID string `json:"id"`
	// CourseID is the owning course.
	CourseID string `json:"course_id"`
	// Slug is the stable machine name, unique per course.
	Slug string `json:"slug"`
	// Title is the display name.
	Title string `json:"title"`
	// Kind is the content kind all typed nodes share.
	Kind CourseContentKind `json:"kind"`
	// Color is an optional UI hint.
	Color string `json:"color,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the content type row.
func (t *CourseContentType) CheckAndSetDefaults() error {
	if t.CourseID == "" {
		return trace.BadParameter("missing parameter CourseID")
	}
	if t.Slug == "" {
		return trace.BadParameter("missing parameter Slug")
	}
	if err := t.Kind.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// CourseContent is a node in a course's content tree, addressed by an
// ltree path relative to the course root. Descendants are found by
// path prefix, never by pointer chasing.
type CourseContent struct {
	// ID is the unique identifier of the node.
	ID string `json:"id"`
	// CourseID is the owning course.
	CourseID string `json:"course_id"`
	// CourseContentTypeID references the node's CourseContentType.
	CourseContentTypeID string `json:"course_content_type_id"`
	// Title is the display name.
	Title string `json:"title"`
	// Description is optional markdown shown to students.
	Description string `json:"description,omitempty"`
	// Path orders the node inside the course tree.
	Path Path `json:"path"`
	// Position orders siblings below the same parent.
	Position float64 `json:"position"`
	// ExecutionBackendID names the backend that runs tests for this
	// node; required before tests can be scheduled.
	ExecutionBackendID *string `json:"execution_backend_id,omitempty"`
	// MaxGroupSize is the default group size for new submission
	// groups under this node.
	MaxGroupSize int `json:"max_group_size,omitempty"`
	// MaxSubmissions caps official submissions per group when set.
	MaxSubmissions *int `json:"max_submissions,omitempty"`
	// MaxTestRuns caps test executions per group when set.
	MaxTestRuns *int `json:"max_test_runs,omitempty"`
	// Properties is free-form deployment metadata.
	Properties map[string]any `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the content row.
func (c *CourseContent) CheckAndSetDefaults() error {
	if c.CourseID == "" {
		return trace.BadParameter("missing parameter CourseID")
	}
	if c.CourseContentTypeID == "" {
		return trace.BadParameter("missing parameter CourseContentTypeID")
	}
	if c.Title == "" {
		return trace.BadParameter("missing parameter Title")
	}
	if _, err := NewPath(string(c.Path)); err != nil {
		return trace.Wrap(err)
	}
	if c.MaxGroupSize < 0 {
		return trace.BadParameter("MaxGroupSize cannot be negative")
	}
	if c.MaxGroupSize == 0 {
		c.MaxGroupSize = 1
	}
	return nil
}

// ExecutionBackend names an external system capable of running tests,
// e.g. a Temporal task queue.
type ExecutionBackend struct {
	// ID is the unique identifier of the backend.
	ID string `json:"id"`
	// Slug is the stable machine name.
	Slug string `json:"slug"`
	// Type is the backend protocol, currently only "temporal".
	Type string `json:"type"`
	// Properties holds backend-specific settings such as the task
	// queue name.
	Properties map[string]any `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// TaskQueue returns the backend's task queue name, falling back to the
// slug when unset.
func (b *ExecutionBackend) TaskQueue() string {
	if q, ok := b.Properties["task_queue"].(string); ok && q != "" {
		return q
	}
	return b.Slug
}
