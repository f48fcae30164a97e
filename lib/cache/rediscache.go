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
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
)

// redisKeyPrefix namespaces all async cache keys so that the pattern
// scan never touches session, presence, or pub/sub keys.
const redisKeyPrefix = "keys:"

// RedisCache is the async cache shared across instances. Unlike the
// view cache it has no tag index; invalidation scans key patterns,
// which is the shape the deployment has always relied on.
type RedisCache struct {
	client redis.UniversalClient
	log    logrus.FieldLogger
}

// NewRedisCache wraps a redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client: client,
		log:    logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentCache}),
	}
}

// Get unmarshals the cached JSON value into out. Returns NotFound on
// miss.
func (c *RedisCache) Get(ctx context.Context, key string, out any) error {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	switch {
	case err == redis.Nil:
		redisCacheMisses.Inc()
		return trace.NotFound("cache key %q not found", key)
	case err != nil:
		return trace.ConnectionProblem(err, "redis get failed")
	}
	redisCacheHits.Inc()
	if err := json.Unmarshal(data, out); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Set stores the JSON encoding of value under the key with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return trace.ConnectionProblem(err, "redis set failed")
	}
	return nil
}

// Delete removes one key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return trace.ConnectionProblem(err, "redis del failed")
	}
	return nil
}

// InvalidatePattern removes every key matching the glob pattern,
// scanning in batches so large keyspaces never block redis.
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+pattern, 512).Result()
		if err != nil {
			return trace.ConnectionProblem(err, "redis scan failed")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return trace.ConnectionProblem(err, "redis del failed")
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if removed > 0 {
		redisCacheInvalidations.Add(float64(removed))
		c.log.WithFields(logrus.Fields{
			"pattern": pattern,
			"keys":    removed,
		}).Debug("Invalidated redis cache keys.")
	}
	return nil
}
