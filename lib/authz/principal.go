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

// Package authz computes authorization decisions. For every resource
// kind a handler answers two questions that must agree with each
// other: may this principal perform an action on one resource, and
// which rows of the kind may the principal see at all.
package authz

import (
	"sort"

	"github.com/codebench/codebench/api/types"
)

// ClaimKey is one (resource, action) pair granted by a global role.
type ClaimKey struct {
	// Resource is a resource kind or types.Wildcard.
	Resource string
	// Action is an action name or types.Wildcard.
	Action string
}

// Claims is the principal's permission algebra, split into general
// (course-independent) claims and dependent claims scoped to concrete
// resource instances.
type Claims struct {
	// General holds (resource, action) pairs expanded from global
	// role claim tables.
	General map[ClaimKey]struct{}
	// Dependent maps resource kind to resource id to the roles the
	// principal holds on that instance. Course roles live under
	// types.KindCourse.
	Dependent map[string]map[string][]types.CourseRole
}

// NewClaims returns empty initialized claims.
func NewClaims() Claims {
	return Claims{
		General:   make(map[ClaimKey]struct{}),
		Dependent: make(map[string]map[string][]types.CourseRole),
	}
}

// AddGeneral records a general claim.
func (c *Claims) AddGeneral(resource, action string) {
	if c.General == nil {
		c.General = make(map[ClaimKey]struct{})
	}
	c.General[ClaimKey{Resource: resource, Action: action}] = struct{}{}
}

// GrantsAdmin reports whether a general claim names the admin role as
// its resource. Claim tables sourced from an external provider mark
// admins this way instead of assigning the global role.
func (c *Claims) GrantsAdmin() bool {
	for key := range c.General {
		if key.Resource == string(types.RoleAdmin) {
			return true
		}
	}
	return false
}

// AddDependent records an instance-scoped role.
func (c *Claims) AddDependent(kind, id string, role types.CourseRole) {
	if c.Dependent == nil {
		c.Dependent = make(map[string]map[string][]types.CourseRole)
	}
	byID := c.Dependent[kind]
	if byID == nil {
		byID = make(map[string][]types.CourseRole)
		c.Dependent[kind] = byID
	}
	byID[id] = append(byID[id], role)
}

// Membership is one of the principal's course memberships, kept with
// row ids so visibility filters can reference them directly.
type Membership struct {
	// CourseMemberID is the membership row id.
	CourseMemberID string
	// CourseID is the course.
	CourseID string
	// Role is the member's course role.
	Role types.CourseRole
	// CourseGroupID is the member's course group, when any.
	CourseGroupID string
}

// Principal is the authenticated caller, built once per request from
// credentials and cached briefly. All authorization decisions are
// functions of this value plus resource metadata.
type Principal struct {
	// UserID is the authenticated user.
	UserID string
	// Username is kept for log and audit fields.
	Username string
	// IsAdmin short-circuits every check.
	IsAdmin bool
	// Roles are the user's global roles.
	Roles types.Roles
	// Claims is the expanded permission algebra.
	Claims Claims
	// Memberships are the user's course memberships.
	Memberships []Membership
}

// HasGeneral returns true if the principal holds a general claim for
// the (resource, action) pair, honoring wildcards on either side.
func (p *Principal) HasGeneral(resource, action string) bool {
	if p.Claims.General == nil {
		return false
	}
	for _, key := range []ClaimKey{
		{Resource: resource, Action: action},
		{Resource: resource, Action: types.Wildcard},
		{Resource: types.Wildcard, Action: action},
		{Resource: types.Wildcard, Action: types.Wildcard},
	} {
		if _, ok := p.Claims.General[key]; ok {
			return true
		}
	}
	return false
}

// RoleInCourse returns the principal's highest role in a course, or an
// empty role for non-members.
func (p *Principal) RoleInCourse(courseID string) types.CourseRole {
	byID := p.Claims.Dependent[types.KindCourse]
	if byID == nil {
		return ""
	}
	return types.MaxCourseRole(byID[courseID])
}

// HasCourseRole returns true if the principal holds min or above in
// the course.
func (p *Principal) HasCourseRole(courseID string, min types.CourseRole) bool {
	role := p.RoleInCourse(courseID)
	if role == "" {
		return false
	}
	return role.AtLeast(min)
}

// IsMemberOf returns true if the principal holds any role in the
// course.
func (p *Principal) IsMemberOf(courseID string) bool {
	return p.RoleInCourse(courseID) != ""
}

// CoursesAtLeast returns the ids of all courses where the principal
// holds min or above, sorted for deterministic filters.
func (p *Principal) CoursesAtLeast(min types.CourseRole) []string {
	return p.InstancesAtLeast(types.KindCourse, min)
}

// InstancesAtLeast returns the ids of all instances of a kind where
// the principal holds min or above. Besides courses, the principal
// builder records dependent claims for the enclosing course family
// and organization, so container kinds resolve the same way.
func (p *Principal) InstancesAtLeast(kind string, min types.CourseRole) []string {
	byID := p.Claims.Dependent[kind]
	if len(byID) == 0 {
		return nil
	}
	var out []string
	for id, roles := range byID {
		if types.MaxCourseRole(roles).AtLeast(min) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// HasRoleInAnyCourse returns true if the principal holds min or above
// somewhere.
func (p *Principal) HasRoleInAnyCourse(min types.CourseRole) bool {
	byID := p.Claims.Dependent[types.KindCourse]
	for _, roles := range byID {
		if types.MaxCourseRole(roles).AtLeast(min) {
			return true
		}
	}
	return false
}

// MemberIDs returns the principal's course member row ids, sorted.
func (p *Principal) MemberIDs() []string {
	if len(p.Memberships) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Memberships))
	for _, m := range p.Memberships {
		out = append(out, m.CourseMemberID)
	}
	sort.Strings(out)
	return out
}

// MemberIDIn returns the principal's member row id in a course, or
// empty for non-members.
func (p *Principal) MemberIDIn(courseID string) string {
	for _, m := range p.Memberships {
		if m.CourseID == courseID {
			return m.CourseMemberID
		}
	}
	return ""
}

// CourseGroupIDs returns the course groups the principal belongs to,
// sorted.
func (p *Principal) CourseGroupIDs() []string {
	var out []string
	for _, m := range p.Memberships {
		if m.CourseGroupID != "" {
			out = append(out, m.CourseGroupID)
		}
	}
	sort.Strings(out)
	return out
}
