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

package testruns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	testRunsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_test_runs_scheduled_total",
		Help: "Number of test runs submitted to the workflow engine.",
	})
	testRunsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebench_test_runs_reconciled_total",
		Help: "Number of result rows moved to a new status by reconciliation.",
	}, []string{"status"})
)
