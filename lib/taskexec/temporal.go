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
	"errors"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/lib/defaults"
)

// TemporalExecutor implements Executor on a Temporal client.
type TemporalExecutor struct {
	client client.Client
	log    logrus.FieldLogger
}

// NewTemporalExecutor dials the Temporal frontend.
func NewTemporalExecutor(hostPort, namespace string) (*TemporalExecutor, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to the workflow engine at %s", hostPort)
	}
	return NewTemporalExecutorFromClient(c), nil
}

// NewTemporalExecutorFromClient wraps an existing client, used by
// tests with the SDK's test client.
func NewTemporalExecutorFromClient(c client.Client) *TemporalExecutor {
	return &TemporalExecutor{
		client: c,
		log:    logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentTaskExec}),
	}
}

// Close shuts down the underlying client.
func (e *TemporalExecutor) Close() {
	e.client.Close()
}

// SubmitTask starts the named workflow under the caller-minted id.
// Duplicate submissions of the same id are treated as success so the
// call is idempotent on workflow id.
func (e *TemporalExecutor) SubmitTask(ctx context.Context, name, workflowID string, parameters map[string]any, queue string) (string, error) {
	if queue == "" {
		queue = defaults.TestWorkflowQueue
	}
	ctx, cancel := context.WithTimeout(ctx, defaults.WorkflowStartTimeout)
	defer cancel()

	opts := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             queue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	_, err := e.client.ExecuteWorkflow(ctx, opts, name, parameters)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			e.log.WithField("workflow_id", workflowID).Debug("Workflow already started, reusing.")
			return workflowID, nil
		}
		return "", trace.ConnectionProblem(err, "starting workflow %s", workflowID)
	}
	e.log.WithFields(logrus.Fields{
		"workflow_id": workflowID,
		"queue":       queue,
		"name":        name,
	}).Info("Submitted workflow.")
	return workflowID, nil
}

// GetTaskStatus maps the engine execution state onto TaskStatus.
func (e *TemporalExecutor) GetTaskStatus(ctx context.Context, workflowID string) (*TaskInfo, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return &TaskInfo{WorkflowID: workflowID, Status: StatusNotFound}, nil
		}
		return nil, trace.ConnectionProblem(err, "describing workflow %s", workflowID)
	}
	info := desc.GetWorkflowExecutionInfo()
	status := StatusNotFound
	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		// the engine does not expose a queued state on the describe
		// surface; a running execution with no started history event
		// is still waiting for a worker
		if info.GetStartTime() == nil {
			status = StatusQueued
		} else {
			status = StatusStarted
		}
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		status = StatusFinished
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		status = StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		status = StatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		status = StatusTimedOut
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		status = StatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		status = StatusStarted
	}
	return &TaskInfo{WorkflowID: workflowID, Status: status}, nil
}

// GetTaskResult fetches the output of a workflow that reached a
// terminal state.
func (e *TemporalExecutor) GetTaskResult(ctx context.Context, workflowID string) (*TaskResult, error) {
	info, err := e.GetTaskStatus(ctx, workflowID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := &TaskResult{Status: info.Status}
	if info.Status.Active() || info.Status == StatusNotFound {
		return out, nil
	}
	var payload json.RawMessage
	if err := e.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &payload); err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.ResultJSON = payload
	return out, nil
}

var _ Executor = (*TemporalExecutor)(nil)
