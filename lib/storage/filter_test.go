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

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

func TestWhereFilterAll(t *testing.T) {
	var args []any
	where := whereFilter(authz.FilterAll(), messageFilterColumns, &args)
	require.Equal(t, "TRUE", where)
	require.Empty(t, args)
}

func TestWhereFilterNone(t *testing.T) {
	var args []any
	where := whereFilter(authz.FilterNone(), messageFilterColumns, &args)
	require.Equal(t, "FALSE", where)
	require.Empty(t, args)
}

func TestWhereFilterSimpleClauses(t *testing.T) {
	cols := filterColumns{ID: "id", Course: "course_id", SubjectUser: "user_id"}
	var args []any
	where := whereFilter(authz.RowFilter{
		CourseIn:      []string{"c1", "c2"},
		SubjectUserIn: []string{"u1"},
	}, cols, &args)
	require.Equal(t, "(course_id = ANY($1::text[]) OR user_id = ANY($2::text[]))", where)
	require.Equal(t, []any{[]string{"c1", "c2"}, []string{"u1"}}, args)
}

func TestWhereFilterSkipsUnmappedClauses(t *testing.T) {
	// a clause without a column for this table must not leak into SQL,
	// matching a resource kind that never populates the field
	cols := filterColumns{ID: "id"}
	var args []any
	where := whereFilter(authz.RowFilter{
		IDIn:       []string{"x"},
		AuthorUserIn: []string{"u1"},
	}, cols, &args)
	require.Equal(t, "(id = ANY($1::text[]))", where)
	require.Len(t, args, 1)
}

func TestWhereFilterExprPlaceholder(t *testing.T) {
	cols := filterColumns{
		Course:        "course_id",
		GroupUserExpr: groupUserExpr("t.submission_group_id"),
	}
	var args []any
	where := whereFilter(authz.RowFilter{
		CourseIn:    []string{"c1"},
		GroupUserIn: []string{"u1", "u2"},
	}, cols, &args)
	require.Contains(t, where, "course_id = ANY($1::text[])")
	require.Contains(t, where, "sgm.submission_group_id = t.submission_group_id")
	require.Contains(t, where, "gcm.user_id = ANY($2::text[])")
	require.Len(t, args, 2)
}

func TestWhereFilterExcludeRoles(t *testing.T) {
	var args []any
	where := whereFilter(authz.RowFilter{
		CourseIn:            []string{"c1"},
		ExcludeSubjectRoles: []types.Role{types.RoleAdmin},
	}, memberFilterColumns, &args)
	require.Contains(t, where, "AND NOT EXISTS")
	require.Contains(t, where, "ur.role = ANY($2::text[])")
	require.Equal(t, []any{[]string{"c1"}, []string{string(types.RoleAdmin)}}, args)
}

func TestWhereFilterExcludeRolesWithoutInclusiveClause(t *testing.T) {
	// an exclusion on an otherwise empty filter still admits nothing
	var args []any
	where := whereFilter(authz.RowFilter{
		ExcludeSubjectRoles: []types.Role{types.RoleAdmin},
	}, memberFilterColumns, &args)
	require.Equal(t, "FALSE", where)
	require.Empty(t, args)
}

func TestWhereFilterBroadcastGuards(t *testing.T) {
	var args []any
	where := whereFilter(authz.RowFilter{
		CourseBroadcastIn: []string{"c1"},
	}, messageFilterColumns, &args)
	require.Contains(t, where, "messages.user_id IS NULL")
	require.Contains(t, where, "messages.course_group_id IS NULL")
	require.Contains(t, where, "messages.course_id = ANY($1::text[])")
	require.Len(t, args, 1)
}
