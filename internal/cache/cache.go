// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the in-memory response cache for the router.
//
// Entries are keyed by session and prompt and expire lazily: an entry older
// than its TTL is treated as absent on read, there is no background sweeper.
// Growth is bounded only by the TTL; that limitation is a recorded design
// decision (see DESIGN.md).
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the router-level response cache TTL.
const DefaultTTL = 5 * time.Minute

// Entry is one cached completion.
type Entry struct {
	// Response is the generated text.
	Response string

	// Model is the backend/model identifier that produced it.
	Model string

	// Backend is the backend family ("cloud" or "local").
	Backend string

	// Tokens is the token-count estimate for the completion.
	Tokens int

	// Reason is the model-selection reason recorded at generation time.
	Reason string

	// Created is when the entry was written.
	Created time.Time
}

// Stats holds cache hit/miss counters.
type Stats struct {
	Hits    int
	Misses  int
	Entries int
}

// HitRate returns the fraction of lookups that hit, in [0,1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResponseCache is the process-wide response cache.
// Safe for concurrent use.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration

	hits   int
	misses int

	// now is injectable for TTL tests.
	now func() time.Time
}

// New creates a response cache with the given TTL.
// A non-positive TTL falls back to DefaultTTL.
func New(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResponseCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the cache's clock. Test hook.
func (c *ResponseCache) WithClock(now func() time.Time) *ResponseCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Key builds the cache key for a prompt within a session.
// Equal (prompt, session) pairs collide; differing sessions never do.
func Key(prompt, sessionID string) string {
	return sessionID + ":" + prompt
}

// Get returns the cached entry for (prompt, sessionID), or nil if absent or
// expired. Expired entries are deleted on read.
func (c *ResponseCache) Get(prompt, sessionID string) *Entry {
	key := Key(prompt, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}

	if c.now().Sub(entry.Created) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil
	}

	c.hits++
	return entry
}

// Set stores an entry for (prompt, sessionID), overwriting any existing one.
// The entry's Created timestamp is set here; entries are never mutated after.
func (c *ResponseCache) Set(prompt, sessionID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Created = c.now()
	c.entries[Key(prompt, sessionID)] = &entry
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries and resets counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.hits = 0
	c.misses = 0
}

// Stats returns current hit/miss counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// TTL returns the configured time-to-live.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}
