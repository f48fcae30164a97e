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
	"strings"

	"github.com/gravitational/trace"
)

// Path is a dotted hierarchical label path as stored in Postgres ltree
// columns, e.g. "week_1.assignment_2". Paths order lexicographically
// and support ancestor and descendant queries by label prefix.
type Path string

// maxPathLabelLen mirrors the ltree label length limit.
const maxPathLabelLen = 256

func validPathLabel(label string) bool {
	if label == "" || len(label) > maxPathLabelLen {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// NewPath validates and returns a Path built from a dotted string.
func NewPath(s string) (Path, error) {
	if s == "" {
		return "", trace.BadParameter("path cannot be empty")
	}
	for _, label := range strings.Split(s, ".") {
		if !validPathLabel(label) {
			return "", trace.BadParameter("path label %q must match [A-Za-z0-9_]+", label)
		}
	}
	return Path(s), nil
}

// JoinPath appends labels to a parent path, validating each label.
func JoinPath(parent Path, labels ...string) (Path, error) {
	parts := []string{}
	if parent != "" {
		parts = append(parts, string(parent))
	}
	for _, label := range labels {
		if !validPathLabel(label) {
			return "", trace.BadParameter("path label %q must match [A-Za-z0-9_]+", label)
		}
		parts = append(parts, label)
	}
	if len(parts) == 0 {
		return "", trace.BadParameter("path cannot be empty")
	}
	return Path(strings.Join(parts, ".")), nil
}

func (p Path) String() string { return string(p) }

// Labels returns the individual labels of the path.
func (p Path) Labels() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// Depth returns the number of labels in the path.
func (p Path) Depth() int {
	return len(p.Labels())
}

// Last returns the final label of the path.
func (p Path) Last() string {
	labels := p.Labels()
	if len(labels) == 0 {
		return ""
	}
	return labels[len(labels)-1]
}

// Parent returns the path with its final label removed, or an empty
// path for a root label.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(string(p), '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// IsAncestorOf returns true if other is a strict descendant of p.
func (p Path) IsAncestorOf(other Path) bool {
	if p == "" || other == "" || p == other {
		return false
	}
	return strings.HasPrefix(string(other), string(p)+".")
}

// IsDescendantOf returns true if p is a strict descendant of other.
func (p Path) IsDescendantOf(other Path) bool {
	return other.IsAncestorOf(p)
}
