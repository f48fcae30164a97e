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

package taskexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   types.ResultStatus
	}{
		{StatusQueued, types.ResultScheduled},
		{StatusStarted, types.ResultRunning},
		{StatusFinished, types.ResultFinished},
		{StatusFailed, types.ResultFailed},
		{StatusCancelled, types.ResultCancelled},
		{StatusTimedOut, types.ResultCrashed},
		{StatusTerminated, types.ResultCrashed},
		{StatusNotFound, types.ResultCrashed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, tt.status.ResultStatus())
		})
	}
}

func TestSubmitIdempotentOnWorkflowID(t *testing.T) {
	fake := NewFakeExecutor()
	ctx := context.Background()

	id, err := fake.SubmitTask(ctx, "student-testing", "wid-1", nil, "q")
	require.NoError(t, err)
	require.Equal(t, "wid-1", id)

	id, err = fake.SubmitTask(ctx, "student-testing", "wid-1", nil, "q")
	require.NoError(t, err)
	require.Equal(t, "wid-1", id)
	require.Equal(t, 2, fake.Submits("wid-1"))

	info, err := fake.GetTaskStatus(ctx, "wid-1")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, info.Status)
}

func TestUnknownWorkflowReportsNotFound(t *testing.T) {
	fake := NewFakeExecutor()
	info, err := fake.GetTaskStatus(context.Background(), "missing")
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, info.Status)
	require.Equal(t, types.ResultCrashed, info.Status.ResultStatus())
}
