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

package errcode

import (
	"net/http"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCodeAndClass(t *testing.T) {
	err := New(TestAlreadyRunning, "result-1")
	require.Error(t, err)

	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, TestAlreadyRunning, code)

	// validation category surfaces as BadParameter for handlers that
	// only know trace classes
	require.True(t, trace.IsBadParameter(err))
	assert.Contains(t, err.Error(), "already testing/running")
	assert.Contains(t, err.Error(), "result-1")
}

func TestCategoryStatus(t *testing.T) {
	for _, tt := range []struct {
		code   Code
		status int
	}{
		{code: AuthInvalidCredentials, status: http.StatusUnauthorized},
		{code: PermDenied, status: http.StatusForbidden},
		{code: SubNotZip, status: http.StatusBadRequest},
		{code: NotFoundResource, status: http.StatusNotFound},
		{code: ConflictDuplicate, status: http.StatusConflict},
		{code: RateLimited, status: http.StatusTooManyRequests},
		{code: ExtWorkflowEngine, status: http.StatusServiceUnavailable},
		{code: Internal, status: http.StatusInternalServerError},
		{code: NotImplemented, status: http.StatusNotImplemented},
	} {
		t.Run(string(tt.code), func(t *testing.T) {
			require.Equal(t, tt.status, Lookup(tt.code).HTTPStatus())
		})
	}
}

func TestWrapKeepsOriginalClass(t *testing.T) {
	orig := trace.NotFound("example version %v not found", "v1")
	err := Wrap(orig, DeployVersionNotFound)

	require.True(t, trace.IsNotFound(err))
	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, DeployVersionNotFound, code)

	require.NoError(t, Wrap(nil, DeployVersionNotFound))
}

func TestDetails(t *testing.T) {
	err := NewWithDetails(SubQuotaReached, map[string]any{"limit": 3}, 3)
	require.Equal(t, map[string]any{"limit": 3}, DetailsOf(err))
	require.Nil(t, DetailsOf(trace.BadParameter("plain")))
}

func TestLookupUnknownFallsBack(t *testing.T) {
	desc := Lookup(Code("GHOST_999"))
	require.Equal(t, CategoryInternal, desc.Category)
	require.Equal(t, Code("GHOST_999"), desc.Code)
}

// templateArgs builds one matching argument per fmt verb of a message
// template so tests can feed each template exactly what it expects.
func templateArgs(template string) []any {
	var args []any
	for i := 0; i < len(template)-1; i++ {
		if template[i] != '%' {
			continue
		}
		switch template[i+1] {
		case '%':
			i++
		case 'd':
			args = append(args, 1)
		default:
			args = append(args, "x")
		}
	}
	return args
}

// Every catalog template must render cleanly when given as many
// arguments as it declares verbs. A "%!" in the output means a call
// site convention drifted from the template.
func TestTemplatesRenderWithoutArtifacts(t *testing.T) {
	for _, desc := range Catalog() {
		t.Run(string(desc.Code), func(t *testing.T) {
			err := New(desc.Code, templateArgs(desc.Message)...)
			require.NotContains(t, err.Error(), "%!", "template of %s garbles its arguments", desc.Code)
			require.NotContains(t, err.Error(), "%s", "template of %s was left unfilled", desc.Code)
			require.NotContains(t, err.Error(), "%d", "template of %s was left unfilled", desc.Code)
		})
	}
}

// No-verb codes are built without arguments; the template is the
// message, verbatim.
func TestNoArgsLeaveTemplateIntact(t *testing.T) {
	err := New(AuthInvalidCredentials)
	require.Equal(t, "invalid username or password", err.Error())
}

func TestCatalogComplete(t *testing.T) {
	for _, desc := range Catalog() {
		assert.NotEmpty(t, desc.Code)
		assert.NotEmpty(t, desc.Category, "code %s", desc.Code)
		assert.NotEmpty(t, desc.Severity, "code %s", desc.Code)
		assert.NotEmpty(t, desc.Message, "code %s", desc.Code)
	}
	// retryable categories advertise retry_after
	require.NotZero(t, Lookup(RateLimited).RetryAfter)
	require.NotZero(t, Lookup(ExtWorkflowEngine).RetryAfter)
}
