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
	"context"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/utils"
)

// workspaceResource is the general-claim resource gating workspace
// provisioning.
const workspaceResource = "workspace"

// WorkspaceRequest asks the provisioner for a development workspace.
type WorkspaceRequest struct {
	// Template names the workspace template.
	Template string `json:"template"`
	// WorkspaceName overrides the generated name.
	WorkspaceName string `json:"workspace_name,omitempty"`
	// UserID is the owner, filled from the principal.
	UserID string `json:"-"`
}

// Workspace is the provisioner's answer.
type Workspace struct {
	// WorkspaceID identifies the provisioned workspace.
	WorkspaceID string `json:"workspace_id"`
	// Name is the effective workspace name.
	Name string `json:"name"`
	// Status is the provisioner-side lifecycle state.
	Status string `json:"status"`
}

// Provisioner creates external development workspaces. The wire
// protocol of the real provisioner is out of scope here; the API only
// depends on this interface.
type Provisioner interface {
	Provision(ctx context.Context, req WorkspaceRequest) (*Workspace, error)
}

// StubProvisioner answers provision requests locally without talking
// to any workspace backend.
type StubProvisioner struct{}

func (s *StubProvisioner) Provision(_ context.Context, req WorkspaceRequest) (*Workspace, error) {
	id, err := utils.CryptoRandomHex(16)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	name := req.WorkspaceName
	if name == "" {
		name = req.Template + "-" + id[:8]
	}
	return &Workspace{WorkspaceID: id, Name: name, Status: "pending"}, nil
}

func (h *Handler) provisionWorkspace(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	if !principal.IsAdmin && !principal.HasGeneral(workspaceResource, "provision") {
		return nil, errcode.New(errcode.PermDenied, "provision", "workspace")
	}
	var req WorkspaceRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Template == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "template is required")
	}
	req.UserID = principal.UserID
	workspace, err := h.cfg.Provisioner.Provision(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return workspace, nil
}
