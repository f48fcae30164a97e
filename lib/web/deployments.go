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

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/deploy"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/httplib"
)

type assignExampleRequest struct {
	ExampleVersionID  string `json:"example_version_id,omitempty"`
	ExampleIdentifier string `json:"example_identifier,omitempty"`
	VersionTag        string `json:"version_tag,omitempty"`
	DeploymentMessage string `json:"deployment_message,omitempty"`
}

type deploymentResponse struct {
	Deployment *types.CourseContentDeployment `json:"deployment"`
	History    []types.DeploymentHistory      `json:"history"`
}

func (h *Handler) assignExample(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req assignExampleRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.ExampleVersionID == "" && req.ExampleIdentifier == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "example_version_id or example_identifier is required")
	}
	deployment, history, err := h.cfg.Deployments.AssignExample(r.Context(), principal, deploy.AssignRequest{
		CourseContentID:   p.ByName("content_id"),
		ExampleVersionID:  req.ExampleVersionID,
		ExampleIdentifier: types.Path(req.ExampleIdentifier),
		VersionTag:        req.VersionTag,
		Message:           req.DeploymentMessage,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return deploymentResponse{Deployment: deployment, History: history}, nil
}

func (h *Handler) unassignExample(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	if _, err := h.cfg.Deployments.UnassignExample(r.Context(), principal, p.ByName("content_id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"status": "unassigned"}, nil
}

func (h *Handler) releaseContent(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	deployment, err := h.cfg.Deployments.Release(r.Context(), principal, p.ByName("content_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return deployment, nil
}

func (h *Handler) getDeployment(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	deployment, history, err := h.cfg.Deployments.GetDeployment(r.Context(), principal, p.ByName("content_id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return deploymentResponse{Deployment: deployment, History: history}, nil
}

type validateAssignmentsRequest struct {
	Items []validateAssignmentItem `json:"items"`
}

type validateAssignmentItem struct {
	CourseContentID   string `json:"course_content_id"`
	ExampleIdentifier string `json:"example_identifier"`
	VersionTag        string `json:"version_tag,omitempty"`
}

func (h *Handler) validateAssignments(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req validateAssignmentsRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	items := make([]deploy.CheckItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, deploy.CheckItem{
			CourseContentID:   item.CourseContentID,
			ExampleIdentifier: types.Path(item.ExampleIdentifier),
			VersionTag:        item.VersionTag,
		})
	}
	results, err := h.cfg.Deployments.ValidateAssignments(r.Context(), principal, p.ByName("course_id"), items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"results": results}, nil
}
