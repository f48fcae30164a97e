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

// Package cache implements the two caching systems of the control
// plane: the in-process tagged view cache and the redis-backed async
// cache with pattern-scan invalidation. Mutating paths must invalidate
// both; Invalidator bundles them so call sites cannot forget one.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/lib/defaults"
)

// Tag marks a cache entry as dependent on one entity. Entries are
// removed when any of their tags is invalidated.
type Tag struct {
	// Kind is the entity kind, e.g. "course".
	Kind string
	// ID is the entity id.
	ID string
}

// NewTag builds a tag.
func NewTag(kind, id string) Tag { return Tag{Kind: kind, ID: id} }

// UserTag tags an entry as belonging to one reader's views.
func UserTag(userID string) Tag { return Tag{Kind: "user", ID: userID} }

// String renders the canonical "kind:id" form.
func (t Tag) String() string { return t.Kind + ":" + t.ID }

type viewEntry struct {
	value any
	tags  []Tag
}

// ViewCacheConfig tunes the view cache.
type ViewCacheConfig struct {
	// Size caps the number of entries.
	Size int
	// TTL bounds entries between invalidations.
	TTL time.Duration
}

// CheckAndSetDefaults fills defaults.
func (c *ViewCacheConfig) CheckAndSetDefaults() error {
	if c.Size == 0 {
		c.Size = defaults.ViewCacheSize
	}
	if c.TTL == 0 {
		c.TTL = defaults.ViewCacheTTL
	}
	return nil
}

// ViewCache is the in-process tagged key-value cache holding
// aggregated per-user views. Every entry carries entity tags;
// invalidating a tag removes every entry carrying it.
type ViewCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, viewEntry]
	// byTag indexes live keys by tag string for O(entries-per-tag)
	// invalidation.
	byTag map[string]map[string]struct{}
	log   logrus.FieldLogger
}

// NewViewCache returns an empty view cache.
func NewViewCache(cfg ViewCacheConfig) (*ViewCache, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, err
	}
	c := &ViewCache{
		byTag: make(map[string]map[string]struct{}),
		log:   logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentCache}),
	}
	// no eviction callback: the TTL reaper runs outside our lock, so
	// the tag index is cleaned lazily on invalidation instead
	c.entries = expirable.NewLRU[string, viewEntry](cfg.Size, nil, cfg.TTL)
	return c, nil
}

// Get returns the cached value for a key.
func (c *ViewCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok {
		viewCacheMisses.Inc()
		return nil, false
	}
	viewCacheHits.Inc()
	return e.value, true
}

// Set stores a value under the key with the given tags.
func (c *ViewCache) Set(key string, value any, tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, viewEntry{value: value, tags: tags})
	for _, t := range tags {
		keys := c.byTag[t.String()]
		if keys == nil {
			keys = make(map[string]struct{})
			c.byTag[t.String()] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateTags removes every entry carrying any of the tags.
func (c *ViewCache) InvalidateTags(tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, t := range tags {
		for key := range c.byTag[t.String()] {
			if c.entries.Remove(key) {
				removed++
			}
		}
		delete(c.byTag, t.String())
	}
	if removed > 0 {
		viewCacheInvalidations.Add(float64(removed))
		c.log.WithFields(logrus.Fields{
			"tags":    fmt.Sprint(tags),
			"entries": removed,
		}).Debug("Invalidated view cache entries.")
	}
}

// InvalidateUserViews wipes every entry of one reader. Used when the
// precise tag set of a mutation is too risky to enumerate.
func (c *ViewCache) InvalidateUserViews(userID string) {
	c.InvalidateTags(UserTag(userID))
}

// Len returns the number of live entries.
func (c *ViewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
