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

package web

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/messaging"
)

type createMessageRequest struct {
	ParentID *string `json:"parent_id,omitempty"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`

	UserID            *string `json:"user_id,omitempty"`
	CourseMemberID    *string `json:"course_member_id,omitempty"`
	SubmissionGroupID *string `json:"submission_group_id,omitempty"`
	CourseGroupID     *string `json:"course_group_id,omitempty"`
	CourseContentID   *string `json:"course_content_id,omitempty"`
	CourseID          *string `json:"course_id,omitempty"`
}

func (h *Handler) createMessage(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req createMessageRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	message, err := h.cfg.Messages.CreateMessage(r.Context(), principal, messaging.CreateMessageRequest{
		ParentID:          req.ParentID,
		Title:             req.Title,
		Content:           req.Content,
		UserID:            req.UserID,
		CourseMemberID:    req.CourseMemberID,
		SubmissionGroupID: req.SubmissionGroupID,
		CourseGroupID:     req.CourseGroupID,
		CourseContentID:   req.CourseContentID,
		CourseID:          req.CourseID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return message, nil
}

func (h *Handler) listMessages(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	messages, err := h.cfg.Messages.ListMessages(r.Context(), principal, r.URL.Query().Get("course_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return messages, nil
}

func (h *Handler) getMessage(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	message, err := h.cfg.Messages.GetMessage(r.Context(), principal, p.ByName("message_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return message, nil
}

type updateMessageRequest struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

func (h *Handler) updateMessage(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req updateMessageRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	message, err := h.cfg.Messages.UpdateMessage(r.Context(), principal, p.ByName("message_id"), req.Title, req.Content)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return message, nil
}

func (h *Handler) deleteMessage(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	if err := h.cfg.Messages.DeleteMessage(r.Context(), principal, p.ByName("message_id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

func (h *Handler) markRead(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	if err := h.cfg.Messages.MarkRead(r.Context(), principal, p.ByName("message_id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"status": "read"}, nil
}

func (h *Handler) markUnread(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	if err := h.cfg.Messages.MarkUnread(r.Context(), principal, p.ByName("message_id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"status": "unread"}, nil
}

func (h *Handler) countUnread(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	count, err := h.cfg.Messages.CountUnread(r.Context(), principal)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]int{"unread_count": count}, nil
}
