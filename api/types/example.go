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

// ExampleRepository is a source of deployable examples, typically a
// Git repository synchronized into example storage.
type ExampleRepository struct {
	// ID is the unique identifier of the repository.
	ID string `json:"id"`
	// Title is the display name.
	Title string `json:"title"`
	// SourceType is the synchronization protocol, e.g. "git".
	SourceType string `json:"source_type"`
	// SourceURL locates the upstream repository.
	SourceURL string `json:"source_url,omitempty"`
	// OrganizationID optionally scopes the repository.
	OrganizationID *string `json:"organization_id,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last synchronization timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// Example is a deployable reference exercise, addressed by an ltree
// identifier unique within its repository, e.g. "lib.sort".
type Example struct {
	// ID is the unique identifier of the example.
	ID string `json:"id"`
	// ExampleRepositoryID is the owning repository.
	ExampleRepositoryID string `json:"example_repository_id"`
	// Identifier is the stable hierarchical name of the example.
	Identifier Path `json:"identifier"`
	// Title is the display name.
	Title string `json:"title"`
	// Properties is free-form metadata from the example's meta file.
	Properties map[string]any `json:"properties,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the example row.
func (e *Example) CheckAndSetDefaults() error {
	if e.ExampleRepositoryID == "" {
		return trace.BadParameter("missing parameter ExampleRepositoryID")
	}
	if _, err := NewPath(string(e.Identifier)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// ExampleVersion is one released version of an example. VersionTag is
// normalized semver ("1.2" becomes "1.2.0") and unique per example.
type ExampleVersion struct {
	// ID is the unique identifier of the version.
	ID string `json:"id"`
	// ExampleID is the owning example.
	ExampleID string `json:"example_id"`
	// VersionTag is the normalized semver tag.
	VersionTag string `json:"version_tag"`
	// VersionIdentifier is the source commit the version was cut from.
	VersionIdentifier string `json:"version_identifier"`
	// StorageKey locates the version's archive in example storage.
	StorageKey string `json:"storage_key,omitempty"`
	// CreatedAt is the release timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the version row.
func (v *ExampleVersion) CheckAndSetDefaults() error {
	if v.ExampleID == "" {
		return trace.BadParameter("missing parameter ExampleID")
	}
	if v.VersionTag == "" {
		return trace.BadParameter("missing parameter VersionTag")
	}
	if v.VersionIdentifier == "" {
		return trace.BadParameter("missing parameter VersionIdentifier")
	}
	return nil
}
