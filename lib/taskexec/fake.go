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
	"encoding/json"
	"sync"

	"github.com/gravitational/trace"
)

// FakeExecutor is an in-memory Executor for tests and development.
// Submitted tasks stay queued until the test advances them with
// SetStatus or Finish.
type FakeExecutor struct {
	mu    sync.Mutex
	tasks map[string]*fakeTask
	// SubmitErr, when set, fails the next SubmitTask call.
	SubmitErr error
}

type fakeTask struct {
	name       string
	queue      string
	parameters map[string]any
	status     TaskStatus
	err        string
	result     json.RawMessage
	submits    int
}

// NewFakeExecutor returns an empty fake.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{tasks: make(map[string]*fakeTask)}
}

// SubmitTask records the task as queued. Resubmitting an id is a
// no-op returning the same id, matching the engine contract.
func (f *FakeExecutor) SubmitTask(ctx context.Context, name, workflowID string, parameters map[string]any, queue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		err := f.SubmitErr
		f.SubmitErr = nil
		return "", trace.Wrap(err)
	}
	if t, ok := f.tasks[workflowID]; ok {
		t.submits++
		return workflowID, nil
	}
	f.tasks[workflowID] = &fakeTask{
		name:       name,
		queue:      queue,
		parameters: parameters,
		status:     StatusQueued,
		submits:    1,
	}
	return workflowID, nil
}

// GetTaskStatus reports the recorded status; unknown ids report
// StatusNotFound.
func (f *FakeExecutor) GetTaskStatus(ctx context.Context, workflowID string) (*TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[workflowID]
	if !ok {
		return &TaskInfo{WorkflowID: workflowID, Status: StatusNotFound}, nil
	}
	return &TaskInfo{WorkflowID: workflowID, Status: t.status}, nil
}

// GetTaskResult reports the recorded outcome.
func (f *FakeExecutor) GetTaskResult(ctx context.Context, workflowID string) (*TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[workflowID]
	if !ok {
		return &TaskResult{Status: StatusNotFound}, nil
	}
	return &TaskResult{Status: t.status, Error: t.err, ResultJSON: t.result}, nil
}

// SetStatus moves a task to the given status.
func (f *FakeExecutor) SetStatus(workflowID string, status TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[workflowID]; ok {
		t.status = status
	}
}

// Finish completes a task with a result payload.
func (f *FakeExecutor) Finish(workflowID string, result json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[workflowID]; ok {
		t.status = StatusFinished
		t.result = result
	}
}

// Fail completes a task unsuccessfully.
func (f *FakeExecutor) Fail(workflowID string, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[workflowID]; ok {
		t.status = StatusFailed
		t.err = msg
	}
}

// Submits returns how often an id was submitted.
func (f *FakeExecutor) Submits(workflowID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[workflowID]; ok {
		return t.submits
	}
	return 0
}

var _ Executor = (*FakeExecutor)(nil)
