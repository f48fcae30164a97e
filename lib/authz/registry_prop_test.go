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
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/codebench/codebench/api/types"
)

var (
	propKinds = []string{
		types.KindOrganization,
		types.KindCourseFamily,
		types.KindCourse,
		types.KindCourseContent,
		types.KindCourseContentType,
		types.KindCourseMember,
		types.KindCourseGroup,
		types.KindSubmissionGroup,
		types.KindSubmissionArtifact,
		types.KindResult,
		types.KindSubmissionGrade,
		types.KindExample,
		types.KindMessage,
		types.KindStudentProfile,
		types.KindApiToken,
		types.KindUser,
		types.KindSession,
		"unknown_kind",
	}
	propCourses = []string{"c1", "c2", "c3"}
	propUsers   = []string{"alice", "bob", "carol"}
)

func genKind() gopter.Gen {
	ks := make([]interface{}, len(propKinds))
	for i, k := range propKinds {
		ks[i] = k
	}
	return gen.OneConstOf(ks...)
}

func genRowAction() gopter.Gen {
	return gen.OneConstOf(types.ActionGet, types.ActionList, types.ActionUpdate, types.ActionDelete)
}

// genPrincipal builds a non-admin principal with up to one role per
// course from the pool. Role index 0 means not enrolled.
func genPrincipal() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(propUsers[0], propUsers[1], propUsers[2]),
		gen.SliceOfN(len(propCourses), gen.IntRange(0, len(types.CourseRoles))),
	).Map(func(vals []interface{}) *Principal {
		userID := vals[0].(string)
		roleIdx := vals[1].([]int)
		p := &Principal{UserID: userID, Username: userID, Claims: NewClaims()}
		for i, idx := range roleIdx {
			if idx == 0 {
				continue
			}
			role := types.CourseRoles[idx-1]
			courseID := propCourses[i]
			p.Claims.AddDependent(types.KindCourse, courseID, role)
			p.Memberships = append(p.Memberships, Membership{
				CourseMemberID: "m-" + courseID + "-" + userID,
				CourseID:       courseID,
				Role:           role,
			})
		}
		return p
	})
}

// genResource builds row metadata with every dimension drawn from small
// pools so collisions with the principal's ids are frequent. The kind
// is filled in by the property.
func genResource() gopter.Gen {
	maybe := func(pool []string) gopter.Gen {
		vals := make([]interface{}, 0, len(pool)+1)
		vals = append(vals, "")
		for _, v := range pool {
			vals = append(vals, v)
		}
		return gen.OneConstOf(vals...)
	}
	return gopter.CombineGens(
		maybe(propCourses),
		maybe(propUsers),
		maybe(propUsers),
		maybe(propUsers),
		gen.SliceOf(gen.OneConstOf(propUsers[0], propUsers[1], propUsers[2])),
		maybe([]string{"cg-1", "cg-2"}),
		maybe([]string{"m-c1-alice", "m-c2-bob"}),
	).Map(func(vals []interface{}) *Resource {
		return &Resource{
			ID:             "row-1",
			CourseID:       vals[0].(string),
			SubjectUserID:  vals[1].(string),
			AuthorUserID:   vals[2].(string),
			MemberUserID:   vals[3].(string),
			GroupUserIDs:   vals[4].([]string),
			CourseGroupID:  vals[5].(string),
			CourseMemberID: vals[6].(string),
		}
	})
}

// The registry exposes the same decision as a point check and as a row
// filter. For row-targeted actions the two must agree on every row, or
// list endpoints would show rows that direct reads deny (or hide rows
// they allow).
func TestPointChecksAgreeWithRowFilters(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	r := NewRegistry()

	properties.Property("CanPerform matches BuildQuery row by row", prop.ForAll(
		func(p *Principal, kind string, action string, row *Resource) bool {
			row.Kind = kind
			point := r.CanPerform(p, kind, action, row)
			filtered := r.BuildQuery(p, kind, action).Matches(row)
			return point == filtered
		},
		genPrincipal(),
		genKind(),
		genRowAction(),
		genResource(),
	))

	properties.TestingRun(t)
}

// Admins bypass the pipeline entirely: every action on every kind is
// allowed and every filter admits all rows.
func TestAdminDecisionsAreTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	r := NewRegistry()
	admin := &Principal{UserID: "root", Username: "root", IsAdmin: true, Claims: NewClaims()}

	properties.Property("admin may perform any action", prop.ForAll(
		func(kind string, action string) bool {
			return r.CanPerform(admin, kind, action, nil) &&
				r.BuildQuery(admin, kind, action).All
		},
		genKind(),
		genRowAction(),
	))

	properties.TestingRun(t)
}

// Course roles are totally ordered, so promoting a member must never
// revoke anything the lower role already allowed.
func TestHigherCourseRoleNeverRevokes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	r := NewRegistry()

	withRole := func(userID, courseID string, role types.CourseRole) *Principal {
		p := &Principal{UserID: userID, Username: userID, Claims: NewClaims()}
		p.Claims.AddDependent(types.KindCourse, courseID, role)
		p.Memberships = []Membership{{
			CourseMemberID: "m-" + courseID + "-" + userID,
			CourseID:       courseID,
			Role:           role,
		}}
		return p
	}

	properties.Property("promotion is monotone", prop.ForAll(
		func(kind string, action string, lowerIdx, upperIdx int, row *Resource) bool {
			if lowerIdx > upperIdx {
				lowerIdx, upperIdx = upperIdx, lowerIdx
			}
			row.Kind = kind
			lower := withRole("alice", "c1", types.CourseRoles[lowerIdx])
			upper := withRole("alice", "c1", types.CourseRoles[upperIdx])
			if !r.CanPerform(lower, kind, action, row) {
				return true
			}
			return r.CanPerform(upper, kind, action, row)
		},
		genKind(),
		gen.OneConstOf(types.ActionGet, types.ActionList, types.ActionCreate, types.ActionUpdate, types.ActionDelete),
		gen.IntRange(0, len(types.CourseRoles)-1),
		gen.IntRange(0, len(types.CourseRoles)-1),
		genResource(),
	))

	properties.TestingRun(t)
}
