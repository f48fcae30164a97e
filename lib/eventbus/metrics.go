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

package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codebench_ws_connections",
		Help: "Number of live websocket connections on this instance.",
	})
	wsEventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_ws_events_delivered_total",
		Help: "Number of events fanned out to local subscribers.",
	})
	wsEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_ws_events_dropped_total",
		Help: "Number of events dropped because a subscriber could not be written in time.",
	})
	wsEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_ws_events_published_total",
		Help: "Number of events published through redis.",
	})
)
