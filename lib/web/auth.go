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
	"net"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/session"
)

type loginRequest struct {
	// Username and Password authenticate a local account.
	Username string `json:"username"`
	Password string `json:"password"`
	// ProviderToken is a provider-signed JWT, used instead of the
	// password pair when set.
	ProviderToken string `json:"provider_token,omitempty"`
	// DeviceLabel is an optional client-supplied device description.
	DeviceLabel string `json:"device_label,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id"`
	TokenType    string `json:"token_type"`
}

func (h *Handler) tokenResponse(tokens *session.Tokens) tokenResponse {
	expiresIn := int(tokens.Session.ExpiresAt.Sub(h.cfg.Clock.Now()).Seconds())
	return tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    expiresIn,
		UserID:       tokens.Session.UserID,
		TokenType:    "Bearer",
	}
}

func (h *Handler) login(_ http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	var req loginRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	var user *types.User
	var err error
	switch {
	case req.ProviderToken != "":
		user, err = h.cfg.Auth.AuthenticateProviderToken(r.Context(), req.ProviderToken)
	case req.Username != "" && req.Password != "":
		user, err = h.cfg.Auth.AuthenticatePassword(r.Context(), req.Username, req.Password)
	default:
		return nil, errcode.New(errcode.ValInvalidRequest, "username and password are required")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tokens, err := h.cfg.Sessions.StartSession(r.Context(), user, session.Metadata{
		DeviceLabel: req.DeviceLabel,
		UserAgent:   r.UserAgent(),
		IP:          remoteIP(r),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.tokenResponse(tokens), nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(_ http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	var req refreshRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.RefreshToken == "" {
		return nil, errcode.New(errcode.ValInvalidRequest, "refresh_token is required")
	}
	tokens, err := h.cfg.Sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return h.tokenResponse(tokens), nil
}

// logout ends the session named by the bearer token. The principal
// cache entry dies with its TTL; the session keys are dropped eagerly.
func (h *Handler) logout(_ http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Sessions.EndSession(r.Context(), token); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"message": "logged out"}, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
