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

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_view_cache_hits_total",
		Help: "Number of view cache hits.",
	})
	viewCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_view_cache_misses_total",
		Help: "Number of view cache misses.",
	})
	viewCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_view_cache_invalidated_entries_total",
		Help: "Number of view cache entries removed by tag invalidation.",
	})
	redisCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_redis_cache_hits_total",
		Help: "Number of redis cache hits.",
	})
	redisCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_redis_cache_misses_total",
		Help: "Number of redis cache misses.",
	})
	redisCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebench_redis_cache_invalidated_keys_total",
		Help: "Number of redis cache keys removed by pattern invalidation.",
	})
)
