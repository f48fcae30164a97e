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
)

func (h *Handler) studentCourseView(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	view, err := h.cfg.Views.StudentCourseView(r.Context(), principal, p.ByName("course_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return view, nil
}

func (h *Handler) tutorCourseView(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	view, err := h.cfg.Views.TutorCourseView(r.Context(), principal, p.ByName("course_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return view, nil
}

func (h *Handler) lecturerCourseView(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	view, err := h.cfg.Views.LecturerCourseView(r.Context(), principal, p.ByName("course_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return view, nil
}

func (h *Handler) studentContentView(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	status, err := h.cfg.Views.StudentContentView(r.Context(), principal, p.ByName("course_id"), p.ByName("content_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return status, nil
}
