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

// Role is a global (course-independent) role attached to a user.
type Role string

const (
	// RoleAdmin grants every permission on every resource.
	RoleAdmin Role = "_admin"
	// RoleUser is the default role of every registered user.
	RoleUser Role = "_user"
	// RoleUserManager may manage non-admin user accounts.
	RoleUserManager Role = "_user_manager"
	// RoleServiceAccount marks machine users authenticating with API tokens.
	RoleServiceAccount Role = "_service_account"
)

// Roles is a list of global roles.
type Roles []Role

// Include returns true if the list contains the given role.
func (rs Roles) Include(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// CourseRole is a role scoped to a single course. Course roles are
// totally ordered: a member holding a role implicitly holds every
// role below it in the same course.
type CourseRole string

const (
	// CourseRoleStudent may read course material and submit work.
	CourseRoleStudent CourseRole = "_student"
	// CourseRoleTutor may additionally read and grade student work.
	CourseRoleTutor CourseRole = "_tutor"
	// CourseRoleLecturer may additionally manage content and members.
	CourseRoleLecturer CourseRole = "_lecturer"
	// CourseRoleMaintainer may additionally manage course integrations.
	CourseRoleMaintainer CourseRole = "_maintainer"
	// CourseRoleOwner holds every permission inside the course.
	CourseRoleOwner CourseRole = "_owner"
)

// CourseRoles lists all course roles in ascending order.
var CourseRoles = []CourseRole{
	CourseRoleStudent,
	CourseRoleTutor,
	CourseRoleLecturer,
	CourseRoleMaintainer,
	CourseRoleOwner,
}

var courseRoleRank = map[CourseRole]int{
	CourseRoleStudent:    0,
	CourseRoleTutor:      1,
	CourseRoleLecturer:   2,
	CourseRoleMaintainer: 3,
	CourseRoleOwner:      4,
}

// Check validates that the role is one of the defined course roles.
func (r CourseRole) Check() error {
	if _, ok := courseRoleRank[r]; !ok {
		return trace.BadParameter("course role must be one of %v, got %q", CourseRoles, r)
	}
	return nil
}

// AtLeast returns true if the role ranks equal to or above other.
// Undefined roles rank below every defined role.
func (r CourseRole) AtLeast(other CourseRole) bool {
	ri, ok := courseRoleRank[r]
	if !ok {
		return false
	}
	oi, ok := courseRoleRank[other]
	if !ok {
		return true
	}
	return ri >= oi
}

// MaxCourseRole returns the highest ranked role of the list, or an
// empty role for an empty list.
func MaxCourseRole(roles []CourseRole) CourseRole {
	var max CourseRole
	for _, r := range roles {
		if max == "" || r.AtLeast(max) {
			max = r
		}
	}
	return max
}

// RoleClaim is one (resource, action) pair granted by a global role.
// Either side may be the wildcard.
type RoleClaim struct {
	// Resource is a resource kind or the wildcard.
	Resource string `json:"resource"`
	// Action is an action name or the wildcard.
	Action string `json:"action"`
}

// ParseCourseRole converts a stored string into a validated CourseRole.
func ParseCourseRole(s string) (CourseRole, error) {
	r := CourseRole(strings.TrimSpace(s))
	if err := r.Check(); err != nil {
		return "", trace.Wrap(err)
	}
	return r, nil
}
