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
	"time"

	"github.com/gravitational/trace"
)

// Message is a hierarchical message scoped by at most one primary
// target. When the target is a submission group or course content, the
// surrounding course id is copied onto the row so that visibility
// queries and cache tags can filter by course without joins.
type Message struct {
	// ID is the unique identifier of the message.
	ID string `json:"id"`
	// AuthorUserID is the writing user; only the author may update
	// or delete the message.
	AuthorUserID string `json:"author_user_id"`
	// ParentID threads replies under another message. Replies
	// inherit the parent's target fields.
	ParentID *string `json:"parent_id,omitempty"`
	// Title is the optional subject line.
	Title string `json:"title,omitempty"`
	// Content is the message body, markdown.
	Content string `json:"content"`

	// UserID targets a single user directly.
	UserID *string `json:"user_id,omitempty"`
	// CourseMemberID targets one course membership.
	CourseMemberID *string `json:"course_member_id,omitempty"`
	// SubmissionGroupID targets a submission group.
	SubmissionGroupID *string `json:"submission_group_id,omitempty"`
	// CourseGroupID targets a course group, read-only for clients.
	CourseGroupID *string `json:"course_group_id,omitempty"`
	// CourseContentID targets a content item.
	CourseContentID *string `json:"course_content_id,omitempty"`
	// CourseID is either the primary target or the derived course
	// context copied from a narrower target.
	CourseID *string `json:"course_id,omitempty"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last edit timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the message row.
func (m *Message) CheckAndSetDefaults() error {
	if m.AuthorUserID == "" {
		return trace.BadParameter("missing parameter AuthorUserID")
	}
	if m.Content == "" {
		return trace.BadParameter("missing parameter Content")
	}
	targets := 0
	for _, t := range []*string{m.UserID, m.CourseMemberID, m.SubmissionGroupID, m.CourseGroupID, m.CourseContentID} {
		if t != nil && *t != "" {
			targets++
		}
	}
	if targets > 1 {
		return trace.BadParameter("message can have at most one primary target, got %d", targets)
	}
	return nil
}

// PrimaryTarget returns the kind and id of the message's primary
// target. A message whose only scope is the course context targets the
// course itself; an untargeted message returns empty values.
func (m *Message) PrimaryTarget() (kind string, id string) {
	switch {
	case m.UserID != nil && *m.UserID != "":
		return KindUser, *m.UserID
	case m.CourseMemberID != nil && *m.CourseMemberID != "":
		return KindCourseMember, *m.CourseMemberID
	case m.SubmissionGroupID != nil && *m.SubmissionGroupID != "":
		return KindSubmissionGroup, *m.SubmissionGroupID
	case m.CourseContentID != nil && *m.CourseContentID != "":
		return KindCourseContent, *m.CourseContentID
	case m.CourseGroupID != nil && *m.CourseGroupID != "":
		return KindCourseGroup, *m.CourseGroupID
	case m.CourseID != nil && *m.CourseID != "":
		return KindCourse, *m.CourseID
	}
	return "", ""
}

// InheritTarget copies the parent's target fields onto a reply.
func (m *Message) InheritTarget(parent *Message) {
	m.UserID = parent.UserID
	m.CourseMemberID = parent.CourseMemberID
	m.SubmissionGroupID = parent.SubmissionGroupID
	m.CourseGroupID = parent.CourseGroupID
	m.CourseContentID = parent.CourseContentID
	m.CourseID = parent.CourseID
}

// MessageRead marks a message as read by one user. The pair is a set
// membership; inserting twice is a no-op.
type MessageRead struct {
	// MessageID is the read message.
	MessageID string `json:"message_id"`
	// UserID is the reader.
	UserID string `json:"user_id"`
	// ReadAt is when the marker was first set.
	ReadAt time.Time `json:"read_at"`
}
