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
	"github.com/codebench/codebench/api/types"
)

// builtinHandlers returns one handler per resource kind. Kinds not
// listed here are admin-only.
func builtinHandlers() []Handler {
	return []Handler{
		&containerHandler{kind: types.KindOrganization},
		&containerHandler{kind: types.KindCourseFamily},
		&containerHandler{kind: types.KindCourse},
		&contentHandler{},
		&contentTypeHandler{},
		&memberHandler{},
		&courseGroupHandler{},
		&submissionGroupHandler{},
		&artifactHandler{},
		&resultHandler{},
		&gradeHandler{},
		&exampleHandler{},
		&messageHandler{},
		&profileHandler{},
		&apiTokenHandler{},
		&userHandler{},
		&sessionHandler{},
	}
}

// broadGeneral is embedded by handlers that leave general-claim grants
// unrestricted.
type broadGeneral struct{}

func (broadGeneral) NarrowGeneral(*Principal, string) RowFilter { return FilterAll() }

// containerHandler serves the three nesting containers: organization,
// course family, and course. Members read them, lecturers update them,
// only admins create or delete them. The principal builder records
// dependent claims for all three kinds, so visibility is an id lookup.
type containerHandler struct {
	broadGeneral
	kind string
}

func (h *containerHandler) Kind() string { return h.kind }

func (h *containerHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return RowFilter{IDIn: p.InstancesAtLeast(h.kind, types.CourseRoleStudent)}
	case types.ActionUpdate:
		return RowFilter{IDIn: p.InstancesAtLeast(h.kind, types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *containerHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// contentHandler serves course content nodes. Students read, lecturers
// write; creating a node requires lecturer in the parent course.
type contentHandler struct{ broadGeneral }

func (h *contentHandler) Kind() string { return types.KindCourseContent }

func (h *contentHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleStudent)}
	case types.ActionCreate, types.ActionUpdate, types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *contentHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// contentTypeHandler serves content types. Any enrolled student may
// read any course's types; writes require lecturer in the type's
// course.
type contentTypeHandler struct{ broadGeneral }

func (h *contentTypeHandler) Kind() string { return types.KindCourseContentType }

func (h *contentTypeHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		if p.HasRoleInAnyCourse(types.CourseRoleStudent) {
			return FilterAll()
		}
	case types.ActionCreate, types.ActionUpdate, types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *contentTypeHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// memberHandler serves course memberships. Tutors see their course's
// roster, everyone sees their own row, lecturers manage rows.
type memberHandler struct{ broadGeneral }

func (h *memberHandler) Kind() string { return types.KindCourseMember }

func (h *memberHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return Union(
			RowFilter{SubjectUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionCreate, types.ActionUpdate, types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *memberHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// courseGroupHandler serves organizational course groups.
type courseGroupHandler struct{ broadGeneral }

func (h *courseGroupHandler) Kind() string { return types.KindCourseGroup }

func (h *courseGroupHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleStudent)}
	case types.ActionCreate, types.ActionUpdate, types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *courseGroupHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// submissionGroupHandler serves submission groups. Members and tutors
// read them; students create their own; lecturers manage them.
type submissionGroupHandler struct{ broadGeneral }

func (h *submissionGroupHandler) Kind() string { return types.KindSubmissionGroup }

func (h *submissionGroupHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return Union(
			RowFilter{GroupUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionCreate:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleStudent)}
	case types.ActionUpdate, types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *submissionGroupHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// artifactHandler serves uploaded archives. Group members and tutors
// read and create; the uploader or a tutor may flip the submit flag;
// lecturers delete.
type artifactHandler struct{ broadGeneral }

func (h *artifactHandler) Kind() string { return types.KindSubmissionArtifact }

func (h *artifactHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList, types.ActionCreate:
		return Union(
			RowFilter{GroupUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionUpdate:
		return Union(
			RowFilter{MemberUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *artifactHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// resultHandler serves test results. Students see results attributed
// to them or run in their groups; tutors see their courses' results
// and may update; lecturers delete. Creation is on behalf of the
// requesting member.
type resultHandler struct{ broadGeneral }

func (h *resultHandler) Kind() string { return types.KindResult }

func (h *resultHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return Union(
			RowFilter{MemberUserIn: []string{p.UserID}},
			RowFilter{GroupUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionCreate:
		return Union(
			RowFilter{MemberUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionUpdate:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)}
	case types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *resultHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// gradeHandler serves tutor grades. Group members see grades on their
// artifacts, tutors grade, only the author edits a grade.
type gradeHandler struct{ broadGeneral }

func (h *gradeHandler) Kind() string { return types.KindSubmissionGrade }

func (h *gradeHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return Union(
			RowFilter{GroupUserIn: []string{p.UserID}},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionCreate:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)}
	case types.ActionUpdate:
		return RowFilter{AuthorUserIn: []string{p.UserID}}
	case types.ActionDelete:
		return RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleLecturer)}
	}
	return FilterNone()
}

func (h *gradeHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// exampleHandler serves deployable examples. Examples are shared
// across courses; holding lecturer anywhere grants full access.
type exampleHandler struct{ broadGeneral }

func (h *exampleHandler) Kind() string { return types.KindExample }

func (h *exampleHandler) Query(p *Principal, action string) RowFilter {
	if p.HasRoleInAnyCourse(types.CourseRoleLecturer) {
		return FilterAll()
	}
	return FilterNone()
}

func (h *exampleHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// messageHandler serves hierarchical messages. Visibility is the union
// of: authored, targeted at the principal, the principal's member row,
// the principal's submission and course groups, course-wide broadcasts
// of enrolled courses, and everything in courses held at tutor or
// above. Creation depends on the target kind; edits are author-only.
type messageHandler struct{ broadGeneral }

func (h *messageHandler) Kind() string { return types.KindMessage }

func (h *messageHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return Union(
			RowFilter{AuthorUserIn: []string{p.UserID}},
			RowFilter{SubjectUserIn: []string{p.UserID}},
			RowFilter{CourseMemberIn: p.MemberIDs()},
			RowFilter{GroupUserIn: []string{p.UserID}},
			RowFilter{CourseGroupIn: p.CourseGroupIDs()},
			RowFilter{CourseBroadcastIn: p.CoursesAtLeast(types.CourseRoleStudent)},
			RowFilter{CourseIn: p.CoursesAtLeast(types.CourseRoleTutor)},
		)
	case types.ActionUpdate, types.ActionDelete:
		return RowFilter{AuthorUserIn: []string{p.UserID}}
	}
	return FilterNone()
}

func (h *messageHandler) Allow(p *Principal, action string, res *Resource) bool {
	if action != types.ActionCreate {
		return queryMatch(h, p, action, res)
	}
	if res == nil {
		return false
	}
	switch {
	case res.SubjectUserID != "" || res.CourseMemberID != "":
		// direct user and member messages are not implemented
		return false
	case res.SubmissionGroupID != "":
		// group members plus staff roles
		for _, u := range res.GroupUserIDs {
			if u == p.UserID {
				return true
			}
		}
		return p.HasCourseRole(res.CourseID, types.CourseRoleTutor)
	case res.CourseGroupID != "":
		// read-only target
		return false
	case res.CourseID != "":
		return p.HasCourseRole(res.CourseID, types.CourseRoleLecturer)
	}
	return false
}

// profileHandler serves student profiles. Owners read their own row;
// all writes require general claims granted to staff roles.
type profileHandler struct{ broadGeneral }

func (h *profileHandler) Kind() string { return types.KindStudentProfile }

func (h *profileHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList:
		return RowFilter{SubjectUserIn: []string{p.UserID}}
	}
	return FilterNone()
}

func (h *profileHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// apiTokenHandler serves API tokens. Owners manage their own tokens;
// arbitrary updates are admin-only.
type apiTokenHandler struct{ broadGeneral }

func (h *apiTokenHandler) Kind() string { return types.KindApiToken }

func (h *apiTokenHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList, types.ActionCreate, types.ActionDelete:
		return RowFilter{SubjectUserIn: []string{p.UserID}}
	}
	return FilterNone()
}

func (h *apiTokenHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

// userHandler serves user accounts. Users see and update themselves.
// The user-manager general claim grants broad access but never over
// admins or service accounts.
type userHandler struct{}

func (h *userHandler) Kind() string { return types.KindUser }

func (h *userHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList, types.ActionUpdate:
		return RowFilter{SubjectUserIn: []string{p.UserID}}
	}
	return FilterNone()
}

func (h *userHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}

func (h *userHandler) NarrowGeneral(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionUpdate, types.ActionDelete:
		return RowFilter{
			All:                 true,
			ExcludeSubjectRoles: []types.Role{types.RoleAdmin, types.RoleServiceAccount},
		}
	}
	return FilterAll()
}

// sessionHandler serves login sessions. Owners list and revoke their
// own sessions; nothing else is exposed.
type sessionHandler struct{ broadGeneral }

func (h *sessionHandler) Kind() string { return types.KindSession }

func (h *sessionHandler) Query(p *Principal, action string) RowFilter {
	switch action {
	case types.ActionGet, types.ActionList, types.ActionDelete:
		return RowFilter{SubjectUserIn: []string{p.UserID}}
	}
	return FilterNone()
}

func (h *sessionHandler) Allow(p *Principal, action string, res *Resource) bool {
	return queryMatch(h, p, action, res)
}
