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

// CourseMember is a user's membership in a course. Each (user, course)
// pair has at most one membership, carrying exactly one course role.
type CourseMember struct {
	// ID is the unique identifier of the membership.
	ID string `json:"id"`
	// CourseID is the course.
	CourseID string `json:"course_id"`
	// UserID is the member.
	UserID string `json:"user_id"`
	// CourseRole is the member's role inside the course.
	CourseRole CourseRole `json:"course_role"`
	// CourseGroupID optionally places the member in a course group.
	CourseGroupID *string `json:"course_group_id,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the membership row.
func (m *CourseMember) CheckAndSetDefaults() error {
	if m.CourseID == "" {
		return trace.BadParameter("missing parameter CourseID")
	}
	if m.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if err := m.CourseRole.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// CourseGroup is an organizational group inside a course, e.g. a
// tutorial slot. Unlike submission groups it carries no submissions.
type CourseGroup struct {
	// ID is the unique identifier of the group.
	ID string `json:"id"`
	// CourseID is the owning course.
	CourseID string `json:"course_id"`
	// Title is the display name.
	Title string `json:"title"`
	// Description is optional free text.
	Description string `json:"description,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the group row.
func (g *CourseGroup) CheckAndSetDefaults() error {
	if g.CourseID == "" {
		return trace.BadParameter("missing parameter CourseID")
	}
	if g.Title == "" {
		return trace.BadParameter("missing parameter Title")
	}
	return nil
}
