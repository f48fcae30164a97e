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
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/submissions"
	"github.com/codebench/codebench/lib/utils"
)

// maxUploadBytes bounds a whole multipart upload request.
const maxUploadBytes = 128 << 20

type uploadResponse struct {
	ArtifactIDs       []string `json:"artifact_ids"`
	TotalSize         int64    `json:"total_size"`
	FilesCount        int      `json:"files_count"`
	VersionIdentifier string   `json:"version_identifier"`
}

// upload ingests one or more zip archives for a submission group. All
// files of one request share a version identifier.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	groupID := p.ByName("group_id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errcode.New(errcode.ValInvalidRequest, fmt.Sprintf("malformed multipart request: %v", err))
	}
	defer r.MultipartForm.RemoveAll()

	version := r.FormValue("version_identifier")
	if version == "" {
		var err error
		version, err = utils.CryptoRandomHex(8)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	submit := false
	if v := r.FormValue("submit"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errcode.New(errcode.ValInvalidRequest, fmt.Sprintf("invalid submit flag %q", v))
		}
		submit = parsed
	}

	var files []*uploadedFile
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return nil, errcode.New(errcode.ValInvalidRequest, fmt.Sprintf("unreadable file %q", header.Filename))
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, trace.Wrap(err)
			}
			files = append(files, &uploadedFile{
				name:        header.Filename,
				contentType: header.Header.Get("Content-Type"),
				data:        data,
			})
		}
	}
	if len(files) == 0 {
		return nil, errcode.New(errcode.ValInvalidRequest, "no files in upload")
	}

	resp := uploadResponse{VersionIdentifier: version}
	for _, f := range files {
		artifact, err := h.cfg.Submissions.Upload(r.Context(), principal, submissions.UploadRequest{
			SubmissionGroupID: groupID,
			Filename:          f.name,
			ContentType:       f.contentType,
			Data:              f.data,
			VersionIdentifier: version,
			Submit:            submit,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		resp.ArtifactIDs = append(resp.ArtifactIDs, artifact.ID)
		resp.TotalSize += int64(len(f.data))
		resp.FilesCount++
	}
	return resp, nil
}

type uploadedFile struct {
	name        string
	contentType string
	data        []byte
}

type updateArtifactRequest struct {
	Submit     *bool          `json:"submit,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (h *Handler) updateArtifact(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req updateArtifactRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	artifact, err := h.cfg.Submissions.UpdateArtifact(r.Context(), principal, p.ByName("artifact_id"), req.Submit, req.Properties)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return artifact, nil
}

// downloadHandler streams the stored archive instead of a JSON body,
// so it bypasses MakeHandler's reply path on success.
func (h *Handler) downloadHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		principal, err := h.authenticate(r)
		if err != nil {
			httplib.ReplyError(w, err)
			return
		}
		artifact, data, err := h.cfg.Submissions.Download(r.Context(), principal, p.ByName("artifact_id"))
		if err != nil {
			httplib.ReplyError(w, err)
			return
		}
		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

type createGroupRequest struct {
	CourseContentID string `json:"course_content_id"`
	WithJoinCode    bool   `json:"with_join_code,omitempty"`
}

func (h *Handler) createGroup(_ http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req createGroupRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.CourseContentID == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "course_content_id is required")
	}
	group, err := h.cfg.Submissions.CreateGroup(r.Context(), principal, req.CourseContentID, req.WithJoinCode)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return group, nil
}

type joinGroupRequest struct {
	JoinCode string `json:"join_code,omitempty"`
}

func (h *Handler) joinGroup(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req joinGroupRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := h.cfg.Submissions.JoinGroup(r.Context(), principal, p.ByName("group_id"), req.JoinCode); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"status": "joined"}, nil
}

type gradeRequest struct {
	SubmissionArtifactID string            `json:"submission_artifact_id"`
	Grade                float64           `json:"grade"`
	Status               types.GradeStatus `json:"status,omitempty"`
	Comment              string            `json:"comment,omitempty"`
}

func (h *Handler) createGrade(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req gradeRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.SubmissionArtifactID == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "submission_artifact_id is required")
	}
	grade, err := h.cfg.Submissions.CreateGrade(r.Context(), principal, submissions.GradeRequest{
		SubmissionArtifactID: req.SubmissionArtifactID,
		Grade:                req.Grade,
		Status:               req.Status,
		Comment:              req.Comment,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return grade, nil
}

func (h *Handler) updateGrade(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	var req gradeRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	grade, err := h.cfg.Submissions.UpdateGrade(r.Context(), principal, p.ByName("grade_id"), submissions.GradeRequest{
		SubmissionArtifactID: req.SubmissionArtifactID,
		Grade:                req.Grade,
		Status:               req.Status,
		Comment:              req.Comment,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return grade, nil
}
