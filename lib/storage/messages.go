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
	"context"
	"errors"
	"fmt"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
)

// optStr stores optional target references as NULL rather than '', so
// the broadcast clause's IS NULL guards agree with the in-memory
// empty-string checks.
func optStr(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

const messageColumns = `id, author_user_id, parent_id, title, content,
	user_id, course_member_id, submission_group_id, course_group_id, course_content_id, course_id,
	created_at, updated_at`

func scanMessage(row pgx.Row) (*types.Message, error) {
	var m types.Message
	err := row.Scan(&m.ID, &m.AuthorUserID, &m.ParentID, &m.Title, &m.Content,
		&m.UserID, &m.CourseMemberID, &m.SubmissionGroupID, &m.CourseGroupID, &m.CourseContentID,
		&m.CourseID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, message *types.Message) (*types.Message, error) {
	if err := message.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	out := *message
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (id, author_user_id, parent_id, title, content,
	user_id, course_member_id, submission_group_id, course_group_id, course_content_id, course_id,
	created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		out.ID, out.AuthorUserID, optStr(out.ParentID), out.Title, out.Content,
		optStr(out.UserID), optStr(out.CourseMemberID), optStr(out.SubmissionGroupID),
		optStr(out.CourseGroupID), optStr(out.CourseContentID), optStr(out.CourseID),
		out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, convertError(err)
	}
	return &out, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("message %s not found", id)
	}
	if err != nil {
		return nil, convertError(err)
	}
	return m, nil
}

// messageFilterColumns mirrors the resource the memory store builds
// for a message: every target column participates directly, the
// member-user clause joins through the targeted membership, and the
// broadcast clause admits course-wide rows only when no narrower
// target is set.
var messageFilterColumns = filterColumns{
	ID:           "messages.id",
	Course:       "messages.course_id",
	SubjectUser:  "messages.user_id",
	AuthorUser:   "messages.author_user_id",
	CourseMember: "messages.course_member_id",
	CourseGroup:  "messages.course_group_id",
	MemberUserExpr: "EXISTS (SELECT 1 FROM course_members cm " +
		"WHERE cm.id = messages.course_member_id AND cm.user_id = ANY(%s))",
	GroupUserExpr: groupUserExpr("messages.submission_group_id"),
	BroadcastExpr: "(messages.user_id IS NULL AND messages.course_member_id IS NULL " +
		"AND messages.submission_group_id IS NULL AND messages.course_group_id IS NULL " +
		"AND messages.course_id = ANY(%s))",
}

func (s *Store) ListMessages(ctx context.Context, filter authz.RowFilter) ([]types.Message, error) {
	var args []any
	where := whereFilter(filter, messageFilterColumns, &args)
	rows, _ := s.pool.Query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+where+" ORDER BY created_at DESC",
		args...)
	defer rows.Close()
	var out []types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, convertError(err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, message *types.Message) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE messages SET title = $2, content = $3, updated_at = $4
WHERE id = $1`,
		message.ID, message.Title, message.Content, s.now())
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("message %s not found", message.ID)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return convertError(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("message %s not found", id)
	}
	return nil
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)", messageID,
	).Scan(&exists); err != nil {
		return false, convertError(err)
	}
	if !exists {
		return false, trace.NotFound("message %s not found", messageID)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO message_reads (message_id, user_id, read_at)
VALUES ($1, $2, $3)
ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, s.now())
	if err != nil {
		return false, convertError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkMessageUnread(ctx context.Context, messageID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM message_reads WHERE message_id = $1 AND user_id = $2",
		messageID, userID)
	if err != nil {
		return false, convertError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CountUnreadMessages(ctx context.Context, userID string, filter authz.RowFilter) (int, error) {
	var args []any
	where := whereFilter(filter, messageFilterColumns, &args)
	args = append(args, userID)
	query := fmt.Sprintf(`
SELECT count(*) FROM messages
WHERE %s AND NOT EXISTS (
	SELECT 1 FROM message_reads mr
	WHERE mr.message_id = messages.id AND mr.user_id = $%d)`,
		where, len(args))
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, convertError(err)
	}
	return count, nil
}
