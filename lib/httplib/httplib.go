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

// Package httplib implements common utility functions for writing
// classic HTTP handlers
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/codebench/codebench/lib/errcode"
)

// maxRequestBody bounds JSON request bodies; archive uploads go
// through multipart and are bounded separately.
const maxRequestBody = 1 << 20

// HandlerFunc specifies an HTTP handler function that returns a JSON
// payload or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// MakeHandler returns a new httprouter.Handle func from a handler func
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		roundtrip.ReplyJSON(w, http.StatusOK, out)
	}
}

// ReadJSON reads an HTTP JSON request and unmarshals it into val.
func ReadJSON(r *http.Request, val interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return errcode.New(errcode.ValInvalidRequest, err.Error())
	}
	return nil
}

// ErrorResponse is the error envelope every failing endpoint returns.
type ErrorResponse struct {
	// ErrorCode is the stable catalog code.
	ErrorCode errcode.Code `json:"error_code"`
	// Message is the human-readable failure description.
	Message string `json:"message"`
	// Details carries optional structured context.
	Details map[string]any `json:"details,omitempty"`
	// Severity grades the failure.
	Severity errcode.Severity `json:"severity"`
	// Category names the failure class.
	Category errcode.Category `json:"category"`
	// RetryAfter advises a retry delay in seconds when non-zero.
	RetryAfter int `json:"retry_after,omitempty"`
}

// ReplyError writes the error envelope for err. Coded errors carry
// their catalog metadata; bare trace errors fall back to the generic
// code of their class. Internal errors never leak their message.
func ReplyError(w http.ResponseWriter, err error) {
	envelope := envelopeOf(err)
	status := envelope.Category.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed.")
	}
	roundtrip.ReplyJSON(w, status, envelope)
}

func envelopeOf(err error) ErrorResponse {
	code, coded := errcode.CodeOf(err)
	if !coded {
		code = genericCode(err)
	}
	desc := errcode.Lookup(code)
	envelope := ErrorResponse{
		ErrorCode:  code,
		Message:    trace.UserMessage(err),
		Details:    errcode.DetailsOf(err),
		Severity:   desc.Severity,
		Category:   desc.Category,
		RetryAfter: desc.RetryAfter,
	}
	if desc.Category == errcode.CategoryInternal {
		envelope.Message = "internal error"
	}
	return envelope
}

// genericCode maps an uncoded trace error onto the catch-all code of
// its class.
func genericCode(err error) errcode.Code {
	switch {
	case trace.IsBadParameter(err):
		return errcode.ValInvalidRequest
	case trace.IsAccessDenied(err):
		return errcode.PermDenied
	case trace.IsNotFound(err):
		return errcode.NotFoundResource
	case trace.IsAlreadyExists(err):
		return errcode.ConflictDuplicate
	case trace.IsLimitExceeded(err):
		return errcode.RateLimited
	case trace.IsConnectionProblem(err):
		return errcode.DBUnavailable
	case trace.IsNotImplemented(err):
		return errcode.NotImplemented
	}
	return errcode.Internal
}
