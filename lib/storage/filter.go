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
	"fmt"
	"strings"

	"github.com/codebench/codebench/lib/authz"
)

// filterColumns maps RowFilter clauses onto one table's columns.
// Simple entries name a column compared with = ANY. Entries suffixed
// Expr are full SQL fragments holding exactly one %s that the renderer
// replaces with the array placeholder; they express joins the simple
// form cannot. An empty entry disables the clause for the table, which
// matches the in-memory semantics of a resource field that is never
// populated for the kind.
type filterColumns struct {
	ID           string
	Course       string
	SubjectUser  string
	AuthorUser   string
	CourseMember string

	MemberUserExpr  string
	GroupUserExpr   string
	CourseGroup     string
	BroadcastExpr   string
	ExcludeRoleExpr string
}

// whereFilter renders a RowFilter into a WHERE fragment, appending
// parameters to args. The fragment is a parenthesized disjunction,
// "TRUE" for an all-filter, "FALSE" for an empty one; exclusion
// clauses are conjoined after the disjunction. Must stay equivalent to
// authz.RowFilter.Matches.
func whereFilter(f authz.RowFilter, cols filterColumns, args *[]any) string {
	if f.All {
		return "TRUE"
	}
	var clauses []string
	add := func(col string, values []string) {
		if col == "" || len(values) == 0 {
			return
		}
		*args = append(*args, values)
		clauses = append(clauses, fmt.Sprintf("%s = ANY($%d::text[])", col, len(*args)))
	}
	addExpr := func(expr string, values []string) {
		if expr == "" || len(values) == 0 {
			return
		}
		*args = append(*args, values)
		clauses = append(clauses, fmt.Sprintf(expr, fmt.Sprintf("$%d::text[]", len(*args))))
	}

	add(cols.ID, f.IDIn)
	add(cols.Course, f.CourseIn)
	add(cols.SubjectUser, f.SubjectUserIn)
	add(cols.AuthorUser, f.AuthorUserIn)
	add(cols.CourseMember, f.CourseMemberIn)
	addExpr(cols.MemberUserExpr, f.MemberUserIn)
	addExpr(cols.GroupUserExpr, f.GroupUserIn)
	add(cols.CourseGroup, f.CourseGroupIn)
	addExpr(cols.BroadcastExpr, f.CourseBroadcastIn)

	if len(clauses) == 0 {
		return "FALSE"
	}
	where := "(" + strings.Join(clauses, " OR ") + ")"

	if cols.ExcludeRoleExpr != "" && len(f.ExcludeSubjectRoles) > 0 {
		roles := make([]string, 0, len(f.ExcludeSubjectRoles))
		for _, r := range f.ExcludeSubjectRoles {
			roles = append(roles, string(r))
		}
		*args = append(*args, roles)
		where += " AND " + fmt.Sprintf(cols.ExcludeRoleExpr, fmt.Sprintf("$%d::text[]", len(*args)))
	}
	return where
}

// groupUserExpr builds the standard "row's submission group contains
// one of these users" fragment. groupCol is the column or expression
// holding the group id on the filtered table.
func groupUserExpr(groupCol string) string {
	return "EXISTS (SELECT 1 FROM submission_group_members sgm " +
		"JOIN course_members gcm ON gcm.id = sgm.course_member_id " +
		"WHERE sgm.submission_group_id = " + groupCol + " AND gcm.user_id = ANY(%s))"
}
