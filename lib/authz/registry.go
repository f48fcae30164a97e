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

package authz

import (
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/errcode"
)

// Handler decides access for one resource kind. Allow and Query must
// agree: for any principal, action, and populated resource, Allow
// returns true exactly when the resource matches Query's filter. Allow
// additionally covers create, where it checks the parent context the
// resource metadata describes.
type Handler interface {
	// Kind returns the resource kind the handler serves.
	Kind() string
	// Allow evaluates the role-based rule against one resource.
	Allow(p *Principal, action string, res *Resource) bool
	// Query returns the rows the role-based rule admits.
	Query(p *Principal, action string) RowFilter
	// NarrowGeneral narrows the all-rows grant that a general claim
	// confers. Most kinds return everything.
	NarrowGeneral(p *Principal, action string) RowFilter
}

// Registry indexes permission handlers by resource kind and runs the
// shared decision pipeline in front of them.
type Registry struct {
	handlers map[string]Handler
	log      logrus.FieldLogger
}

// NewRegistry returns a registry with all built-in handlers installed.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentAuthz}),
	}
	for _, h := range builtinHandlers() {
		r.handlers[h.Kind()] = h
	}
	return r
}

// Register installs or replaces the handler of a kind.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Kind()] = h
}

// CanPerform decides whether the principal may perform an action. The
// pipeline is fixed: admins always may; a general claim grants the
// kind (narrowed by the handler at most); otherwise the handler's
// role-based rule decides; kinds without a handler are admin-only.
//
// For row-targeted actions res carries the loaded row's metadata; for
// create it carries the parent context; a nil res asks whether any row
// could be visible at all.
func (r *Registry) CanPerform(p *Principal, kind, action string, res *Resource) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin {
		return true
	}
	handler := r.handlers[kind]
	if p.HasGeneral(kind, action) {
		if handler == nil {
			return true
		}
		narrowed := handler.NarrowGeneral(p, action)
		if res == nil || action == types.ActionCreate {
			return !narrowed.IsEmpty()
		}
		return narrowed.Matches(res)
	}
	if handler == nil {
		return false
	}
	if res == nil {
		return !handler.Query(p, action).IsEmpty()
	}
	return handler.Allow(p, action, res)
}

// BuildQuery returns the row filter for listing a kind. The filter
// follows exactly the branch CanPerform would take, which is what
// keeps the two faces consistent.
func (r *Registry) BuildQuery(p *Principal, kind, action string) RowFilter {
	if p == nil {
		return FilterNone()
	}
	if p.IsAdmin {
		return FilterAll()
	}
	handler := r.handlers[kind]
	if p.HasGeneral(kind, action) {
		if handler == nil {
			return FilterAll()
		}
		return handler.NarrowGeneral(p, action)
	}
	if handler == nil {
		return FilterNone()
	}
	return handler.Query(p, action)
}

// Authorize is the error-returning form of CanPerform used by request
// paths; denials carry the stable permission code.
func (r *Registry) Authorize(p *Principal, kind, action string, res *Resource) error {
	if r.CanPerform(p, kind, action, res) {
		return nil
	}
	user := "anonymous"
	if p != nil {
		user = p.Username
	}
	r.log.WithFields(logrus.Fields{
		"user":   user,
		"kind":   kind,
		"action": action,
	}).Debug("Access denied.")
	return trace.Wrap(errcode.New(errcode.PermDenied, action, kind))
}

// queryMatch is the default Allow of row-targeted handlers.
func queryMatch(h Handler, p *Principal, action string, res *Resource) bool {
	return h.Query(p, action).Matches(res)
}
