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

// Package errcode defines the stable error-code catalog exposed to API
// clients. Every user-visible failure carries one code with a fixed
// HTTP status, category, and severity; the catalog is the single
// source the client-side message registry is generated from.
package errcode

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gravitational/trace"
)

// Code is a stable error identifier such as "DEPLOY_001". Codes are
// part of the client contract; never renumber or reuse.
type Code string

// Category groups codes by failure class; each category maps to one
// HTTP status.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryValidation     Category = "validation"
	CategoryNotFound       Category = "not_found"
	CategoryConflict       Category = "conflict"
	CategoryRateLimit      Category = "rate_limit"
	CategoryExternal       Category = "external_service"
	CategoryDatabase       Category = "database"
	CategoryInternal       Category = "internal"
	CategoryNotImplemented Category = "not_implemented"
)

// HTTPStatus returns the fixed status for the category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryValidation, CategoryDatabase:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryExternal:
		return http.StatusServiceUnavailable
	case CategoryNotImplemented:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// Severity grades codes for logging and client display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Descriptor is the catalog entry of one code.
type Descriptor struct {
	// Code is the stable identifier.
	Code Code
	// Category decides the HTTP status.
	Category Category
	// Severity grades the failure.
	Severity Severity
	// Message is the plain-text template, fmt-style.
	Message string
	// Markdown is the rich template shown by web clients; falls back
	// to Message when empty.
	Markdown string
	// RetryAfter advises clients to retry after this many seconds;
	// zero means not retryable.
	RetryAfter int
}

// HTTPStatus returns the status the descriptor's category maps to.
func (d Descriptor) HTTPStatus() int { return d.Category.HTTPStatus() }

// Error attaches a catalog code to an underlying trace error. The
// trace class (BadParameter, AccessDenied, ...) stays visible through
// Unwrap so type predicates keep working.
type Error struct {
	// Code is the catalog code.
	Code Code
	// Details is optional structured context returned to the client.
	Details map[string]any

	err error
}

// Error implements the error interface.
func (e *Error) Error() string { return e.err.Error() }

// Unwrap exposes the underlying trace error to errors.As/Is.
func (e *Error) Unwrap() error { return e.err }

// OrigError implements trace.ErrorWrapper for older unwrap paths.
func (e *Error) OrigError() error { return e.err }

// Descriptor returns the catalog entry of the attached code.
func (e *Error) Descriptor() Descriptor { return Lookup(e.Code) }

// New builds a coded error. The message template of the code is filled
// with args and the trace class is derived from the code's category.
func New(code Code, args ...any) error {
	desc := Lookup(code)
	msg := desc.Message
	if len(args) > 0 {
		msg = fmt.Sprintf(desc.Message, args...)
	}
	return &Error{Code: code, err: classError(desc.Category, msg)}
}

// NewWithDetails builds a coded error carrying structured details.
func NewWithDetails(code Code, details map[string]any, args ...any) error {
	err := New(code, args...)
	var coded *Error
	errors.As(err, &coded)
	coded.Details = details
	return coded
}

// Wrap attaches a code to an existing error, keeping its message and
// class. A nil error stays nil.
func Wrap(err error, code Code) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// CodeOf extracts the catalog code from an error chain.
func CodeOf(err error) (Code, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return "", false
}

// DetailsOf extracts structured details from an error chain.
func DetailsOf(err error) map[string]any {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Details
	}
	return nil
}

// classError builds the trace error matching a category so that
// handlers without catalog awareness still map to the right status.
func classError(category Category, msg string) error {
	switch category {
	case CategoryAuthentication, CategoryAuthorization:
		return trace.AccessDenied("%s", msg)
	case CategoryValidation, CategoryDatabase:
		return trace.BadParameter("%s", msg)
	case CategoryNotFound:
		return trace.NotFound("%s", msg)
	case CategoryConflict:
		return trace.AlreadyExists("%s", msg)
	case CategoryRateLimit:
		return trace.LimitExceeded("%s", msg)
	case CategoryExternal:
		return trace.ConnectionProblem(nil, "%s", msg)
	case CategoryNotImplemented:
		return trace.NotImplemented("%s", msg)
	}
	return trace.Errorf("%s", msg)
}
