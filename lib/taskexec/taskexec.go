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

// Package taskexec is the opaque adapter to the workflow engine. The
// rest of the core submits tasks and reads statuses through the
// Executor interface and never sees engine internals.
package taskexec

import (
	"context"
	"encoding/json"

	"github.com/codebench/codebench/api/types"
)

// TaskStatus is the engine-side state of one workflow.
type TaskStatus string

const (
	// StatusQueued means the task is accepted but not yet running.
	StatusQueued TaskStatus = "QUEUED"
	// StatusStarted means the task is executing.
	StatusStarted TaskStatus = "STARTED"
	// StatusFinished means the task completed successfully.
	StatusFinished TaskStatus = "FINISHED"
	// StatusFailed means the task completed unsuccessfully.
	StatusFailed TaskStatus = "FAILED"
	// StatusCancelled means the task was cancelled.
	StatusCancelled TaskStatus = "CANCELLED"
	// StatusTimedOut means the engine gave up on the task.
	StatusTimedOut TaskStatus = "TIMED_OUT"
	// StatusTerminated means the task was killed externally.
	StatusTerminated TaskStatus = "TERMINATED"
	// StatusNotFound means the engine does not know the workflow id.
	StatusNotFound TaskStatus = "NOT_FOUND"
)

// Active returns true while the engine still owns the task.
func (s TaskStatus) Active() bool {
	return s == StatusQueued || s == StatusStarted
}

// ResultStatus maps the engine status onto the local result state
// machine. Unknown and lost workflows count as crashed.
func (s TaskStatus) ResultStatus() types.ResultStatus {
	switch s {
	case StatusQueued:
		return types.ResultScheduled
	case StatusStarted:
		return types.ResultRunning
	case StatusFinished:
		return types.ResultFinished
	case StatusFailed:
		return types.ResultFailed
	case StatusCancelled:
		return types.ResultCancelled
	}
	return types.ResultCrashed
}

// TaskInfo is the engine's answer to a status query.
type TaskInfo struct {
	// WorkflowID identifies the task.
	WorkflowID string
	// Status is the engine-side state.
	Status TaskStatus
}

// TaskResult is the engine's answer to a result query.
type TaskResult struct {
	// Status is the engine-side state at read time.
	Status TaskStatus
	// Error carries the failure message for unsuccessful tasks.
	Error string
	// ResultJSON is the structured task output, nil until finished.
	ResultJSON json.RawMessage
}

// Executor submits tasks to the workflow engine and reads them back.
type Executor interface {
	// SubmitTask starts a workflow under a caller-minted id and
	// returns that id. Submitting the same id twice must not start a
	// second workflow.
	SubmitTask(ctx context.Context, name, workflowID string, parameters map[string]any, queue string) (string, error)
	// GetTaskStatus queries the engine-side state of a workflow.
	// Unknown ids report StatusNotFound rather than an error.
	GetTaskStatus(ctx context.Context, workflowID string) (*TaskInfo, error)
	// GetTaskResult fetches the output of a finished workflow.
	GetTaskResult(ctx context.Context, workflowID string) (*TaskResult, error)
}
