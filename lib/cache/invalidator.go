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

	"github.com/gravitational/trace"
)

// Invalidator fans one logical invalidation out to both cache systems.
// The deployment historically ran a tagged in-process cache and a
// pattern-scanned redis cache side by side; both are kept and every
// mutation must hit the union of their entries.
type Invalidator struct {
	views *ViewCache
	redis *RedisCache
}

// NewInvalidator bundles the two caches. Either may be nil, e.g. in
// tests exercising only one system.
func NewInvalidator(views *ViewCache, redis *RedisCache) *Invalidator {
	return &Invalidator{views: views, redis: redis}
}

// InvalidateTags removes tagged view entries and the matching redis
// key patterns.
func (i *Invalidator) InvalidateTags(ctx context.Context, tags ...Tag) error {
	if i == nil {
		return nil
	}
	if i.views != nil {
		i.views.InvalidateTags(tags...)
	}
	if i.redis != nil {
		for _, t := range tags {
			if err := i.redis.InvalidatePattern(ctx, "*"+t.String()+"*"); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	return nil
}

// InvalidateUserViews wipes one reader's views in both systems.
func (i *Invalidator) InvalidateUserViews(ctx context.Context, userID string) error {
	return trace.Wrap(i.InvalidateTags(ctx, UserTag(userID)))
}
