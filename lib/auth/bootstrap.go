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
	"golang.org/x/crypto/bcrypt"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/services"
)

// defaultRoleClaims seeds the claim tables of the built-in global
// roles on first start. The admin role needs no rows since admin
// short-circuits every check.
var defaultRoleClaims = map[types.Role][]types.RoleClaim{
	types.RoleUser: {
		{Resource: types.KindUser, Action: types.ActionGet},
		{Resource: types.KindStudentProfile, Action: types.ActionGet},
		{Resource: types.KindStudentProfile, Action: types.ActionUpdate},
		{Resource: types.KindApiToken, Action: types.Wildcard},
		{Resource: types.KindSession, Action: types.Wildcard},
	},
	types.RoleUserManager: {
		{Resource: types.KindUser, Action: types.Wildcard},
		{Resource: types.KindStudentProfile, Action: types.Wildcard},
	},
	types.RoleServiceAccount: {
		{Resource: types.KindResult, Action: types.ActionUpdate},
		{Resource: types.KindResult, Action: types.ActionGet},
	},
}

// Bootstrap ensures the built-in role claim tables exist and, when an
// admin username is configured, that the admin user exists with the
// admin role. Safe to run on every start.
func Bootstrap(ctx context.Context, identity services.Identity, adminUser, adminPassword string) error {
	for role, claims := range defaultRoleClaims {
		existing, err := identity.GetRoleClaims(ctx, role)
		if err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
		if len(existing) == 0 {
			if err := identity.SetRoleClaims(ctx, role, claims); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	if adminUser == "" {
		return nil
	}

	user, err := identity.GetUserByUsername(ctx, adminUser)
	switch {
	case trace.IsNotFound(err):
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return trace.Wrap(err)
		}
		user, err = identity.CreateUser(ctx, &types.User{
			Username:     adminUser,
			PasswordHash: hash,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	case err != nil:
		return trace.Wrap(err)
	}

	roles, err := identity.GetUserRoles(ctx, user.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !roles.Include(types.RoleAdmin) {
		if err := identity.AddUserRole(ctx, user.ID, types.RoleAdmin); err != nil {
			return trace.Wrap(err)
		}
	}
	if !roles.Include(types.RoleUser) {
		if err := identity.AddUserRole(ctx, user.ID, types.RoleUser); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}
