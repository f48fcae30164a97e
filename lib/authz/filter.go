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

package authz

import (
	"slices"

	"github.com/codebench/codebench/api/types"
)

// Resource is the metadata an authorization decision needs about one
// row. Callers populate the fields their kind defines; everything else
// stays empty. Loading the row (and, where relevant, resolving its
// group members) is the caller's job so that handlers never touch the
// database.
type Resource struct {
	// Kind is the resource kind.
	Kind string
	// ID is the row id.
	ID string
	// CourseID scopes course-bound kinds.
	CourseID string
	// SubjectUserID is the user the row is about: the member's user,
	// the profile's owner, the token's owner, a message's user
	// target.
	SubjectUserID string
	// AuthorUserID is the writing user for messages and grades.
	AuthorUserID string
	// CourseMemberID attributes the row to a course member.
	CourseMemberID string
	// MemberUserID is the user behind CourseMemberID.
	MemberUserID string
	// SubmissionGroupID links the row to a submission group.
	SubmissionGroupID string
	// GroupUserIDs are the users in the row's submission group.
	GroupUserIDs []string
	// CourseGroupID links the row to a course group.
	CourseGroupID string
	// SubjectRoles are the global roles of the subject user, consulted
	// by exclusion clauses.
	SubjectRoles types.Roles
}

// IsBroadcast returns true if the row addresses a whole course or
// content item rather than a specific user, member, or group. Only
// meaningful for messages.
func (r *Resource) IsBroadcast() bool {
	return r.SubjectUserID == "" && r.CourseMemberID == "" &&
		r.SubmissionGroupID == "" && r.CourseGroupID == ""
}

// RowFilter is an opaque query restriction: the set of rows of one
// kind a principal may see. A filter is a disjunction; a row passes if
// any populated clause matches it. Storage renders the same clauses
// into SQL, so matching a loaded row in memory and filtering in the
// database must agree.
type RowFilter struct {
	// All admits every row and overrides the other clauses.
	All bool
	// IDIn admits rows by id.
	IDIn []string
	// CourseIn admits rows of the listed courses.
	CourseIn []string
	// SubjectUserIn admits rows about the listed users.
	SubjectUserIn []string
	// AuthorUserIn admits rows authored by the listed users.
	AuthorUserIn []string
	// CourseMemberIn admits rows attributed to the listed member ids.
	CourseMemberIn []string
	// MemberUserIn admits rows whose attributed member belongs to one
	// of the listed users.
	MemberUserIn []string
	// GroupUserIn admits rows whose submission group contains one of
	// the listed users.
	GroupUserIn []string
	// CourseGroupIn admits rows of the listed course groups.
	CourseGroupIn []string
	// CourseBroadcastIn admits rows of the listed courses only when
	// the row addresses the course at large (no user, member, or
	// group target). Used for message visibility.
	CourseBroadcastIn []string
	// ExcludeSubjectRoles vetoes rows whose subject holds any of the
	// listed global roles, applied after the inclusive clauses. Set
	// only on filters produced by general-claim narrowing.
	ExcludeSubjectRoles []types.Role
}

// FilterAll admits every row.
func FilterAll() RowFilter { return RowFilter{All: true} }

// FilterNone admits nothing; it is the zero filter.
func FilterNone() RowFilter { return RowFilter{} }

// IsEmpty returns true if the filter admits nothing.
func (f RowFilter) IsEmpty() bool {
	return !f.All &&
		len(f.IDIn) == 0 &&
		len(f.CourseIn) == 0 &&
		len(f.SubjectUserIn) == 0 &&
		len(f.AuthorUserIn) == 0 &&
		len(f.CourseMemberIn) == 0 &&
		len(f.MemberUserIn) == 0 &&
		len(f.GroupUserIn) == 0 &&
		len(f.CourseGroupIn) == 0 &&
		len(f.CourseBroadcastIn) == 0
}

// Union merges filters clause-wise. All dominates. Exclusion clauses
// do not survive a union; they are only valid standalone.
func Union(filters ...RowFilter) RowFilter {
	var out RowFilter
	for _, f := range filters {
		if f.All {
			return FilterAll()
		}
		out.IDIn = append(out.IDIn, f.IDIn...)
		out.CourseIn = append(out.CourseIn, f.CourseIn...)
		out.SubjectUserIn = append(out.SubjectUserIn, f.SubjectUserIn...)
		out.AuthorUserIn = append(out.AuthorUserIn, f.AuthorUserIn...)
		out.CourseMemberIn = append(out.CourseMemberIn, f.CourseMemberIn...)
		out.MemberUserIn = append(out.MemberUserIn, f.MemberUserIn...)
		out.GroupUserIn = append(out.GroupUserIn, f.GroupUserIn...)
		out.CourseGroupIn = append(out.CourseGroupIn, f.CourseGroupIn...)
		out.CourseBroadcastIn = append(out.CourseBroadcastIn, f.CourseBroadcastIn...)
	}
	return out
}

// Matches evaluates the filter against one row's metadata. This is the
// in-memory twin of the SQL rendering in lib/storage; the two must
// stay equivalent.
func (f RowFilter) Matches(res *Resource) bool {
	if res == nil {
		return f.All
	}
	if !f.matchesInclusive(res) {
		return false
	}
	for _, excluded := range f.ExcludeSubjectRoles {
		if res.SubjectRoles.Include(excluded) {
			return false
		}
	}
	return true
}

func (f RowFilter) matchesInclusive(res *Resource) bool {
	if f.All {
		return true
	}
	if res.ID != "" && slices.Contains(f.IDIn, res.ID) {
		return true
	}
	if res.CourseID != "" && slices.Contains(f.CourseIn, res.CourseID) {
		return true
	}
	if res.SubjectUserID != "" && slices.Contains(f.SubjectUserIn, res.SubjectUserID) {
		return true
	}
	if res.AuthorUserID != "" && slices.Contains(f.AuthorUserIn, res.AuthorUserID) {
		return true
	}
	if res.CourseMemberID != "" && slices.Contains(f.CourseMemberIn, res.CourseMemberID) {
		return true
	}
	if res.MemberUserID != "" && slices.Contains(f.MemberUserIn, res.MemberUserID) {
		return true
	}
	for _, u := range res.GroupUserIDs {
		if slices.Contains(f.GroupUserIn, u) {
			return true
		}
	}
	if res.CourseGroupID != "" && slices.Contains(f.CourseGroupIn, res.CourseGroupID) {
		return true
	}
	if res.CourseID != "" && res.IsBroadcast() && slices.Contains(f.CourseBroadcastIn, res.CourseID) {
		return true
	}
	return false
}
