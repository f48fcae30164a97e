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

// Package web implements the HTTP API of the control plane: session
// endpoints, submission uploads, test scheduling, deployments,
// messages, assembled views and the websocket event stream. Every
// handler resolves the caller into a principal first; authorization
// beyond that lives in the domain services.
package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/auth"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/deploy"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/eventbus"
	"github.com/codebench/codebench/lib/httplib"
	"github.com/codebench/codebench/lib/messaging"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/session"
	"github.com/codebench/codebench/lib/submissions"
	"github.com/codebench/codebench/lib/testruns"
	"github.com/codebench/codebench/lib/views"
)

// Pinger reports backend liveness for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the handler's dependencies.
type Config struct {
	// Auth resolves credentials into principals.
	Auth *auth.Authenticator
	// Sessions issues and revokes login sessions.
	Sessions *session.Store
	// Services is the storage handle.
	Services services.Services
	// Views assembles the per-role course views.
	Views *views.Assembler
	// Submissions ingests archives and manages groups and grades.
	Submissions *submissions.Service
	// TestRuns schedules and reconciles test runs.
	TestRuns *testruns.Scheduler
	// Deployments binds example versions to course content.
	Deployments *deploy.Engine
	// Messages is the hierarchical message service.
	Messages *messaging.Service
	// Events serves the websocket stream and presence keys.
	Events *eventbus.Manager
	// Registry narrows listings to what the caller may see.
	Registry *authz.Registry
	// Provisioner creates external workspaces; a stub by default.
	Provisioner Provisioner
	// Pingers are checked by the readiness endpoint.
	Pingers []Pinger
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Auth == nil {
		return trace.BadParameter("missing parameter Auth")
	}
	if c.Sessions == nil {
		return trace.BadParameter("missing parameter Sessions")
	}
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Views == nil {
		return trace.BadParameter("missing parameter Views")
	}
	if c.Submissions == nil {
		return trace.BadParameter("missing parameter Submissions")
	}
	if c.TestRuns == nil {
		return trace.BadParameter("missing parameter TestRuns")
	}
	if c.Deployments == nil {
		return trace.BadParameter("missing parameter Deployments")
	}
	if c.Messages == nil {
		return trace.BadParameter("missing parameter Messages")
	}
	if c.Provisioner == nil {
		c.Provisioner = &StubProvisioner{}
	}
	if c.Registry == nil {
		c.Registry = authz.NewRegistry()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler is the REST API handler.
type Handler struct {
	httprouter.Router
	cfg Config
	log logrus.FieldLogger
}

// NewHandler returns a router serving the API.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentWeb}),
	}

	h.POST("/auth/login", httplib.MakeHandler(h.login))
	h.POST("/auth/refresh", httplib.MakeHandler(h.refresh))
	h.POST("/auth/logout", httplib.MakeHandler(h.logout))

	h.POST("/submissions/:group_id/upload", h.withAuth(h.upload))
	h.PATCH("/artifacts/:artifact_id", h.withAuth(h.updateArtifact))
	h.GET("/artifacts/:artifact_id/download", h.downloadHandler())

	h.POST("/submission-groups", h.withAuth(h.createGroup))
	h.POST("/submission-groups/:group_id/join", h.withAuth(h.joinGroup))
	h.POST("/submission-groups/:group_id/grades", h.withAuth(h.createGrade))
	h.PATCH("/grades/:grade_id", h.withAuth(h.updateGrade))

	h.POST("/tests", h.withAuth(h.createTest))
	h.GET("/tests/status/:result_id", h.withAuth(h.testStatus))
	h.GET("/results", h.withAuth(h.listResults))

	h.POST("/course-contents/:content_id/assign-example", h.withAuth(h.assignExample))
	h.DELETE("/course-contents/:content_id/example", h.withAuth(h.unassignExample))
	h.POST("/course-contents/:content_id/release", h.withAuth(h.releaseContent))
	h.GET("/course-contents/:content_id/deployment", h.withAuth(h.getDeployment))
	h.POST("/courses/:course_id/validate-assignments", h.withAuth(h.validateAssignments))

	h.GET("/messages", h.withAuth(h.listMessages))
	h.POST("/messages", h.withAuth(h.createMessage))
	h.GET("/notifications/unread-count", h.withAuth(h.countUnread))
	h.GET("/messages/:message_id", h.withAuth(h.getMessage))
	h.PATCH("/messages/:message_id", h.withAuth(h.updateMessage))
	h.DELETE("/messages/:message_id", h.withAuth(h.deleteMessage))
	h.POST("/messages/:message_id/read", h.withAuth(h.markRead))
	h.DELETE("/messages/:message_id/read", h.withAuth(h.markUnread))

	h.GET("/courses/:course_id/student-view", h.withAuth(h.studentCourseView))
	h.GET("/courses/:course_id/tutor-view", h.withAuth(h.tutorCourseView))
	h.GET("/courses/:course_id/lecturer-view", h.withAuth(h.lecturerCourseView))
	h.GET("/courses/:course_id/contents/:content_id/status", h.withAuth(h.studentContentView))

	h.GET("/users/:user_id/presence", h.withAuth(h.presence))
	h.POST("/coder/workspaces/provision", h.withAuth(h.provisionWorkspace))

	if cfg.Events != nil {
		h.GET("/ws", h.serveWS())
	}
	h.GET("/healthz", httplib.MakeHandler(h.healthz))
	h.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return h, nil
}

// AuthenticatedHandlerFunc is a handler that runs after the bearer
// credential has been resolved into a principal.
type AuthenticatedHandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error)

// withAuth resolves the bearer token before invoking fn.
func (h *Handler) withAuth(fn AuthenticatedHandlerFunc) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		principal, err := h.authenticate(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return fn(w, r, p, principal)
	})
}

func (h *Handler) authenticate(r *http.Request) (*authz.Principal, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	principal, err := h.cfg.Auth.AuthenticateBearer(r.Context(), token)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return principal, nil
}

// bearerToken extracts the access token. Browsers cannot attach
// headers to websocket upgrades, so a query parameter is accepted too.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return "", errcode.New(errcode.AuthUnknownToken)
		}
		return strings.TrimPrefix(header, prefix), nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errcode.New(errcode.AuthUnknownToken)
}

// serveWS hijacks the connection, so errors before the upgrade are
// replied on the plain HTTP channel and everything after is handled on
// the socket.
func (h *Handler) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		principal, err := h.authenticate(r)
		if err != nil {
			httplib.ReplyError(w, err)
			return
		}
		if err := h.cfg.Events.ServeWS(w, r, principal); err != nil {
			h.log.WithError(err).Debug("Websocket session ended with error.")
		}
	}
}

func (h *Handler) healthz(_ http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	for _, p := range h.cfg.Pingers {
		if err := p.Ping(r.Context()); err != nil {
			return nil, errcode.New(errcode.DBUnavailable)
		}
	}
	return map[string]string{"status": "ok"}, nil
}

func (h *Handler) presence(_ http.ResponseWriter, r *http.Request, p httprouter.Params, principal *authz.Principal) (interface{}, error) {
	userID := p.ByName("user_id")
	if !principal.IsAdmin && principal.UserID != userID {
		// staff of a shared course may observe a student's presence
		if !h.sharesCourseWith(r.Context(), principal, userID) {
			return nil, errcode.New(errcode.PermDenied, "get", "presence")
		}
	}
	if h.cfg.Events == nil {
		return nil, errcode.New(errcode.NotImplemented, "presence tracking")
	}
	online, err := h.cfg.Events.Online(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"user_id": userID, "online": online}, nil
}

func (h *Handler) sharesCourseWith(ctx context.Context, principal *authz.Principal, userID string) bool {
	memberships, err := h.cfg.Services.ListCourseMembersByUser(ctx, userID)
	if err != nil {
		return false
	}
	for _, m := range memberships {
		if principal.HasCourseRole(m.CourseID, types.CourseRoleTutor) {
			return true
		}
	}
	return false
}
