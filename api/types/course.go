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

// ProviderProperties carries the optional per-container integration
// settings for the source-control provider backing a course.
type ProviderProperties struct {
	// GitlabURL is the base URL of the GitLab instance.
	GitlabURL string `json:"gitlab_url,omitempty"`
	// EncryptedToken is the provider access token, encrypted at rest.
	EncryptedToken []byte `json:"-"`
	// GroupPath is the provider-side group the container maps to.
	GroupPath string `json:"group_path,omitempty"`
}

// Organization is the top-level container of course families.
type Organization struct {
	// ID is the unique identifier of the organization.
	ID string `json:"id"`
	// Title is the display name.
	Title string `json:"title"`
	// Path is the organization's root label.
	Path Path `json:"path"`
	// Properties holds provider integration settings.
	Properties ProviderProperties `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseFamily groups recurring editions of the same course under an
// organization.
type CourseFamily struct {
	// ID is the unique identifier of the family.
	ID string `json:"id"`
	// OrganizationID is the owning organization.
	OrganizationID string `json:"organization_id"`
	// Title is the display name.
	Title string `json:"title"`
	// Path nests under the organization path.
	Path Path `json:"path"`
	// Properties holds provider integration settings.
	Properties ProviderProperties `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// Course is a single course edition, the scope unit for membership,
// roles, and content.
type Course struct {
	// ID is the unique identifier of the course.
	ID string `json:"id"`
	// CourseFamilyID is the owning family.
	CourseFamilyID string `json:"course_family_id"`
	// Title is the display name, e.g. "Programming 1 WS24".
	Title string `json:"title"`
	// Path nests under the family path.
	Path Path `json:"path"`
	// Properties holds provider integration settings.
	Properties ProviderProperties `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the course row.
func (c *Course) CheckAndSetDefaults() error {
	if c.Title == "" {
		return trace.BadParameter("missing parameter Title")
	}
	if c.Path == "" {
		return trace.BadParameter("missing parameter Path")
	}
	if _, err := NewPath(string(c.Path)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
