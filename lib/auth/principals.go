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

package auth

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// buildPrincipal expands a user into the full permission view: global
// roles become general claims via the role claim tables, and every
// course membership becomes dependent claims on the course and its
// enclosing family and organization, all at the member's course role.
func (a *Authenticator) buildPrincipal(ctx context.Context, userID string) (*authz.Principal, error) {
	user, err := a.cfg.Identity.GetUser(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	roles, err := a.cfg.Identity.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	principal := &authz.Principal{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    roles,
		Claims:   authz.NewClaims(),
	}
	for _, role := range roles {
		claims, err := a.cfg.Identity.GetRoleClaims(ctx, role)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, claim := range claims {
			principal.Claims.AddGeneral(claim.Resource, claim.Action)
		}
	}
	// the global role grants admin, and so does an admin-resource claim
	// in an externally sourced claim table
	principal.IsAdmin = roles.Include(types.RoleAdmin) || principal.Claims.GrantsAdmin()

	memberships, err := a.cfg.Courses.ListCourseMembersByUser(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// container lookups are memoized across memberships since sibling
	// courses share families
	courseFamilies := make(map[string]string)
	familyOrgs := make(map[string]string)
	for _, m := range memberships {
		member := authz.Membership{
			CourseMemberID: m.ID,
			CourseID:       m.CourseID,
			Role:           m.CourseRole,
		}
		if m.CourseGroupID != nil {
			member.CourseGroupID = *m.CourseGroupID
		}
		principal.Memberships = append(principal.Memberships, member)
		principal.Claims.AddDependent(types.KindCourse, m.CourseID, m.CourseRole)

		familyID, ok := courseFamilies[m.CourseID]
		if !ok {
			course, err := a.cfg.Courses.GetCourse(ctx, m.CourseID)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			familyID = course.CourseFamilyID
			courseFamilies[m.CourseID] = familyID
		}
		if familyID == "" {
			continue
		}
		principal.Claims.AddDependent(types.KindCourseFamily, familyID, m.CourseRole)

		orgID, ok := familyOrgs[familyID]
		if !ok {
			family, err := a.cfg.Courses.GetCourseFamily(ctx, familyID)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			orgID = family.OrganizationID
			familyOrgs[familyID] = orgID
		}
		if orgID != "" {
			principal.Claims.AddDependent(types.KindOrganization, orgID, m.CourseRole)
		}
	}
	return principal, nil
}
