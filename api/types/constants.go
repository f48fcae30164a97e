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

const (
	// KindUser is a platform user account.
	KindUser = "user"

	// KindStudentProfile is the public profile attached to a user.
	KindStudentProfile = "student_profile"

	// KindOrganization is the top-level container of course families.
	KindOrganization = "organization"

	// KindCourseFamily groups recurring editions of the same course.
	KindCourseFamily = "course_family"

	// KindCourse is a single course edition.
	KindCourse = "course"

	// KindCourseContent is a node in a course's content tree.
	KindCourseContent = "course_content"

	// KindCourseContentType classifies content nodes per course.
	KindCourseContentType = "course_content_type"

	// KindCourseMember is a user's membership in a course.
	KindCourseMember = "course_member"

	// KindCourseGroup is an organizational group (e.g. a tutorial slot)
	// inside a course.
	KindCourseGroup = "course_group"

	// KindSubmissionGroup is the unit of attribution for submissions
	// against one content item.
	KindSubmissionGroup = "submission_group"

	// KindSubmissionArtifact is one uploaded archive.
	KindSubmissionArtifact = "submission_artifact"

	// KindResult is the outcome of one test execution.
	KindResult = "result"

	// KindSubmissionGrade is a tutor-supplied grade on an artifact.
	KindSubmissionGrade = "submission_grade"

	// KindExample is a deployable reference exercise.
	KindExample = "example"

	// KindMessage is a hierarchical message.
	KindMessage = "message"

	// KindApiToken is a long-lived service credential.
	KindApiToken = "api_token"

	// KindSession is an interactive login session.
	KindSession = "session"
)

const (
	// ActionGet fetches a single resource by id.
	ActionGet = "get"
	// ActionList enumerates resources of a kind.
	ActionList = "list"
	// ActionCreate creates a resource.
	ActionCreate = "create"
	// ActionUpdate mutates an existing resource.
	ActionUpdate = "update"
	// ActionDelete removes a resource.
	ActionDelete = "delete"
)

// Wildcard matches any resource or action in claim rules.
const Wildcard = "*"
