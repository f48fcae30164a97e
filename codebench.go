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

// Package codebench holds constants shared across the control plane.
package codebench

import "time"

const (
	// Component is the name of the logging field that carries
	// the name of the subsystem emitting the entry.
	Component = "component"

	// ComponentAuth is the identity and principal building subsystem.
	ComponentAuth = "auth"

	// ComponentAuthz is the permission handler registry.
	ComponentAuthz = "authz"

	// ComponentSession is the session and token store.
	ComponentSession = "session"

	// ComponentCache is the aggregated view cache.
	ComponentCache = "cache"

	// ComponentSubmissions is the upload ingestion service.
	ComponentSubmissions = "submissions"

	// ComponentScheduler is the test scheduling and reconciliation service.
	ComponentScheduler = "scheduler"

	// ComponentDeploy is the example deployment engine.
	ComponentDeploy = "deploy"

	// ComponentMessaging is the hierarchical message service.
	ComponentMessaging = "messaging"

	// ComponentFanout is the websocket event fan-out.
	ComponentFanout = "fanout"

	// ComponentTaskExec is the workflow engine adapter.
	ComponentTaskExec = "taskexec"

	// ComponentStorage is the relational storage layer.
	ComponentStorage = "storage"

	// ComponentBlob is the object storage client.
	ComponentBlob = "blob"

	// ComponentWeb is the HTTP API server.
	ComponentWeb = "web"

	// ComponentViews is the per-role view assembly service.
	ComponentViews = "views"
)

const (
	// DefaultTimeout bounds outbound calls that carry no more
	// specific deadline.
	DefaultTimeout = 30 * time.Second

	// DebugEnvVar tells tests to use verbose debug output.
	DebugEnvVar = "CODEBENCH_DEBUG"
)
