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

package deploy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/taskexec"
)

type deployPack struct {
	engine   *Engine
	store    *services.Memory
	executor *taskexec.FakeExecutor

	course   *types.Course
	content  *types.CourseContent
	lecturer *authz.Principal

	sortExample   *types.Example
	searchExample *types.Example
}

func newDeployPack(t *testing.T) *deployPack {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)
	executor := taskexec.NewFakeExecutor()

	engine, err := NewEngine(Config{Services: store, Executor: executor, Clock: clock})
	require.NoError(t, err)

	org, err := store.CreateOrganization(ctx, &types.Organization{Title: "Uni", Path: "uni"})
	require.NoError(t, err)
	family, err := store.CreateCourseFamily(ctx, &types.CourseFamily{OrganizationID: org.ID, Title: "Prog", Path: "uni.prog"})
	require.NoError(t, err)
	course, err := store.CreateCourse(ctx, &types.Course{CourseFamilyID: family.ID, Title: "Prog WS25", Path: "uni.prog.ws25"})
	require.NoError(t, err)
	contentType, err := store.CreateCourseContentType(ctx, &types.CourseContentType{
		CourseID: course.ID, Slug: "assignment", Title: "Assignment", Kind: types.ContentKindAssignment,
	})
	require.NoError(t, err)
	content, err := store.CreateCourseContent(ctx, &types.CourseContent{
		CourseID:            course.ID,
		CourseContentTypeID: contentType.ID,
		Title:               "Sheet 1",
		Path:                "sheet1",
	})
	require.NoError(t, err)

	sortExample, err := store.CreateExample(ctx, &types.Example{
		ExampleRepositoryID: "repo-1", Identifier: "lib.sort", Title: "Sorting",
	})
	require.NoError(t, err)
	searchExample, err := store.CreateExample(ctx, &types.Example{
		ExampleRepositoryID: "repo-1", Identifier: "lib.search", Title: "Searching",
	})
	require.NoError(t, err)
	for _, tag := range []string{"1.0.0", "1.1.0"} {
		_, err = store.CreateExampleVersion(ctx, &types.ExampleVersion{
			ExampleID: sortExample.ID, VersionTag: tag, VersionIdentifier: "commit-sort-" + tag,
			StorageKey: "examples/lib.sort/" + tag + ".zip",
		})
		require.NoError(t, err)
	}
	_, err = store.CreateExampleVersion(ctx, &types.ExampleVersion{
		ExampleID: searchExample.ID, VersionTag: "1.0.0", VersionIdentifier: "commit-search-1.0.0",
	})
	require.NoError(t, err)

	lecturer := &authz.Principal{UserID: "lect", Claims: authz.NewClaims()}
	lecturer.Claims.AddDependent(types.KindCourse, course.ID, types.CourseRoleLecturer)

	return &deployPack{
		engine: engine, store: store, executor: executor,
		course: course, content: content, lecturer: lecturer,
		sortExample: sortExample, searchExample: searchExample,
	}
}

func requireCode(t *testing.T, err error, want errcode.Code) {
	t.Helper()
	code, ok := errcode.CodeOf(err)
	require.True(t, ok, "expected a coded error, got %v", err)
	require.Equal(t, want, code)
}

// release drives a deployment through the deploy workflow to deployed.
func (p *deployPack) release(t *testing.T, ctx context.Context) *types.CourseContentDeployment {
	t.Helper()
	deployment, err := p.engine.Release(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
	p.executor.Finish(*deployment.WorkflowID, json.RawMessage(
		`{"deployment_path":"deployed/uni.prog.ws25/sheet1","version_identifier":"commit-sort-1.0.0"}`))
	reconciled, _, err := p.engine.GetDeployment(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
	require.Equal(t, types.DeploymentDeployed, reconciled.Status)
	return reconciled
}

func TestNormalizeVersionTag(t *testing.T) {
	cases := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "1.2.3", out: "1.2.3"},
		{in: "1.2", out: "1.2.0"},
		{in: "2", out: "2.0.0"},
		{in: "v1.2.3", out: "1.2.3"},
		{in: "1.2.3-rc.1", out: "1.2.3-rc.1"},
		{in: "1.2-rc.1", out: "1.2.0-rc.1"},
		{in: "", fail: true},
		{in: "one.two", fail: true},
		{in: "1.2.3.4", fail: true},
	}
	for _, tc := range cases {
		got, err := NormalizeVersionTag(tc.in)
		if tc.fail {
			requireCode(t, err, errcode.ValInvalidSemver)
			continue
		}
		require.NoError(t, err, "tag %q", tc.in)
		require.Equal(t, tc.out, got)
	}
}

func TestAssignCreatesPendingDeployment(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	deployment, history, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID:   p.content.ID,
		ExampleIdentifier: "lib.sort",
		VersionTag:        "1.0",
		Message:           "initial release",
	})
	require.NoError(t, err)
	require.Equal(t, types.DeploymentPending, deployment.Status)
	require.Equal(t, "1.0.0", deployment.VersionTag)
	require.Equal(t, types.Path("lib.sort"), deployment.ExampleIdentifier)
	require.Len(t, history, 1)
	require.Equal(t, types.DeploymentActionAssigned, history[0].Action)
	require.Equal(t, "lect", history[0].ActorUserID)
}

func TestAssignSameVersionIsNoOp(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()
	req := AssignRequest{
		CourseContentID:   p.content.ID,
		ExampleIdentifier: "lib.sort",
		VersionTag:        "1.0.0",
	}

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, req)
	require.NoError(t, err)
	deployment, history, err := p.engine.AssignExample(ctx, p.lecturer, req)
	require.NoError(t, err)
	require.Equal(t, types.DeploymentPending, deployment.Status)
	require.Len(t, history, 1)
}

func TestDeployedIdentityRule(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	p.release(t, ctx)

	// a different example may not replace a deployed one
	_, _, err = p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.search", VersionTag: "1.0.0",
	})
	requireCode(t, err, errcode.DeployIdentityMismatch)

	// a version bump of the same example is allowed and re-pends
	deployment, history, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.1.0",
	})
	require.NoError(t, err)
	require.Equal(t, types.DeploymentPending, deployment.Status)
	require.Equal(t, "1.1.0", deployment.VersionTag)
	require.Equal(t, types.DeploymentActionUpdated, history[len(history)-1].Action)
}

func TestReassignToDifferentExampleWhilePending(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	deployment, history, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.search", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	require.Equal(t, types.Path("lib.search"), deployment.ExampleIdentifier)
	require.Equal(t, types.DeploymentActionReassigned, history[len(history)-1].Action)
}

func TestUnassign(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)

	deployment, err := p.engine.UnassignExample(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
	require.Equal(t, types.DeploymentUnassigned, deployment.Status)
	require.Nil(t, deployment.ExampleVersionID)
	require.Empty(t, deployment.VersionTag)
}

func TestUnassignRejectedWhileDeployed(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	p.release(t, ctx)

	_, err = p.engine.UnassignExample(ctx, p.lecturer, p.content.ID)
	requireCode(t, err, errcode.DeployInProgress)
}

func TestReleaseFailureRecorded(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	deployment, err := p.engine.Release(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
	p.executor.Fail(*deployment.WorkflowID, "example archive missing")

	reconciled, history, err := p.engine.GetDeployment(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
	require.Equal(t, types.DeploymentFailed, reconciled.Status)
	last := history[len(history)-1]
	require.Equal(t, types.DeploymentActionDeployFailed, last.Action)
	require.Equal(t, "example archive missing", last.Message)

	// a failed release may be retried
	_, err = p.engine.Release(ctx, p.lecturer, p.content.ID)
	require.NoError(t, err)
}

func TestReleaseRecordsReference(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	_, _, err := p.engine.AssignExample(ctx, p.lecturer, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
	deployment := p.release(t, ctx)

	require.True(t, deployment.Released())
	require.Equal(t, "deployed/uni.prog.ws25/sheet1", *deployment.DeploymentPath)
	require.Equal(t, "commit-sort-1.0.0", *deployment.VersionIdentifier)
	require.NotNil(t, deployment.DeployedAt)
}

func TestValidateAssignments(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	results, err := p.engine.ValidateAssignments(ctx, p.lecturer, p.course.ID, []CheckItem{
		{CourseContentID: "c1", ExampleIdentifier: "lib.sort", VersionTag: "1.0"},
		{CourseContentID: "c2", ExampleIdentifier: "lib.sort", VersionTag: "9.9.9"},
		{CourseContentID: "c3", ExampleIdentifier: "lib.missing", VersionTag: "1.0.0"},
		{CourseContentID: "c4", ExampleIdentifier: "lib.search", VersionTag: "not-a-version"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.True(t, results[0].ExampleExists)
	require.True(t, results[0].VersionExists)
	require.Empty(t, results[0].ErrorMessage)

	require.True(t, results[1].ExampleExists)
	require.False(t, results[1].VersionExists)
	require.NotEmpty(t, results[1].ErrorMessage)

	require.False(t, results[2].ExampleExists)
	require.NotEmpty(t, results[2].ErrorMessage)

	require.True(t, results[3].ExampleExists)
	require.False(t, results[3].VersionExists)
	require.NotEmpty(t, results[3].ErrorMessage)
}

func TestDeploymentRequiresLecturer(t *testing.T) {
	p := newDeployPack(t)
	ctx := context.Background()

	tutor := &authz.Principal{UserID: "tutor", Claims: authz.NewClaims()}
	tutor.Claims.AddDependent(types.KindCourse, p.course.ID, types.CourseRoleTutor)

	_, _, err := p.engine.AssignExample(ctx, tutor, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	requireCode(t, err, errcode.PermInsufficientRole)

	admin := &authz.Principal{UserID: "root", IsAdmin: true, Claims: authz.NewClaims()}
	_, _, err = p.engine.AssignExample(ctx, admin, AssignRequest{
		CourseContentID: p.content.ID, ExampleIdentifier: "lib.sort", VersionTag: "1.0.0",
	})
	require.NoError(t, err)
}
