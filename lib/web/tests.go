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
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/testruns"
)

type createTestRequest struct {
	ArtifactID        string `json:"artifact_id,omitempty"`
	SubmissionGroupID string `json:"submission_group_id,omitempty"`
	VersionIdentifier string `json:"version_identifier,omitempty"`
}

func (h *Handler) createTest(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req createTestRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.ArtifactID == "" && req.SubmissionGroupID == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "artifact_id or submission_group_id is required")
	}
	result, err := h.cfg.TestRuns.CreateTest(r.Context(), principal, testruns.CreateTestRequest{
		ArtifactID:        req.ArtifactID,
		SubmissionGroupID: req.SubmissionGroupID,
		VersionIdentifier: req.VersionIdentifier,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

type testStatusResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// testStatus reconciles the run with the workflow engine before
// answering, so a finished workflow is visible on the first poll.
func (h *Handler) testStatus(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	result, err := h.cfg.TestRuns.GetTestStatus(r.Context(), principal, p.ByName("result_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return testStatusResponse{
		ID:        result.ID,
		Status:    result.Status.String(),
		StartedAt: result.StartedAt,
	}, nil
}

// listResults narrows through the caller's row filter; an optional
// course_id query parameter scopes the listing to one course.
func (h *Handler) listResults(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	filter := h.cfg.Registry.BuildQuery(principal, types.KindResult, types.ActionList)
	results, err := h.cfg.Services.ListResults(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	courseID := r.URL.Query().Get("course_id")
	if courseID == "" {
		return results, nil
	}
	contents, err := h.cfg.Services.ListCourseContents(r.Context(), courseID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	inCourse := make(map[string]bool, len(contents))
	for _, c := range contents {
		inCourse[c.ID] = true
	}
	scoped := results[:0]
	for _, res := range results {
		if inCourse[res.CourseContentID] {
			scoped = append(scoped, res)
		}
	}
	return scoped, nil
}
