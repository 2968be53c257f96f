// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sessions tracks per-session conversational context for the router.
//
// The store keeps a bounded rolling window of prior turns plus a small set of
// extracted topics per session. Expired sessions are evicted opportunistically
// on access rather than by a background sweeper.
package sessions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/esgpilot/airouter/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Turn is one message (user or assistant) in a session.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context holds the rolling conversational state of one session.
// All mutation goes through the owning Store.
type Context struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Turns     []Turn    `json:"turns"`
	Topics    []string  `json:"topics"`
	Created   time.Time `json:"created"`
	Accessed  time.Time `json:"accessed"`
}

// TurnCount returns the number of retained turns.
// Callers outside the store must use Store.Snapshot instead; the store may
// mutate the context concurrently.
func (c *Context) TurnCount() int {
	return len(c.Turns)
}

// Snapshot is a point-in-time copy of a session's routing-relevant state,
// safe to read after the store lock is released.
type Snapshot struct {
	TurnCount int
	Topics    []string
}

// Config holds store configuration.
type Config struct {
	// Window is the number of turns rendered into a summary.
	// The store retains 2x this many turns. Default: 5.
	Window int

	// MaxTopics bounds the topic set to the most recently seen N. Default: 10.
	MaxTopics int

	// Expiration is the idle time after which a session is evicted.
	// Default: 30 minutes.
	Expiration time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Window:     5,
		MaxTopics:  10,
		Expiration: 30 * time.Minute,
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store is the process-wide session context store.
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	contexts map[string]*Context
	cfg      Config

	// now is injectable for expiration tests.
	now func() time.Time
}

// NewStore creates a session store with the given configuration.
// Zero-value fields fall back to defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = def.MaxTopics
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = def.Expiration
	}
	return &Store{
		contexts: make(map[string]*Context),
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the store's clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// GetOrCreate returns the context for sessionID, creating it if absent or
// expired. Expired sessions across the whole store are evicted first, so a
// context just returned is never stale.
func (s *Store) GetOrCreate(sessionID, userID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	if ctx, ok := s.contexts[sessionID]; ok {
		ctx.Accessed = s.now()
		return ctx
	}

	now := s.now()
	ctx := &Context{
		SessionID: sessionID,
		UserID:    userID,
		Created:   now,
		Accessed:  now,
	}
	s.contexts[sessionID] = ctx
	return ctx
}

// Update appends a turn to the context and re-derives topics.
// Topics come from user-role content only; the turn list is trimmed to the
// last 2x the summary window, topics to the most recent MaxTopics.
// The returned snapshot reflects the context immediately after the update.
func (s *Store) Update(ctx *Context, role, content string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ctx.Turns = append(ctx.Turns, Turn{Role: role, Content: content, Timestamp: now})

	maxTurns := 2 * s.cfg.Window
	if len(ctx.Turns) > maxTurns {
		ctx.Turns = ctx.Turns[len(ctx.Turns)-maxTurns:]
	}

	if role == "user" {
		ctx.Topics = mergeTopics(ctx.Topics, ExtractTopics(content), s.cfg.MaxTopics)
	}

	ctx.Accessed = now
	return snapshotLocked(ctx)
}

// Snapshot returns a copy of the context's turn count and topics taken under
// the store lock.
func (s *Store) Snapshot(ctx *Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotLocked(ctx)
}

// snapshotLocked copies the routing-relevant fields. Caller must hold s.mu.
func snapshotLocked(ctx *Context) Snapshot {
	topics := make([]string, len(ctx.Topics))
	copy(topics, ctx.Topics)
	return Snapshot{TurnCount: len(ctx.Turns), Topics: topics}
}

// Summarize renders the last Window turns as a numbered transcript with a
// trailing topics line. Returns "" when the context has no turns.
// Pure with respect to the context; nothing is mutated.
func (s *Store) Summarize(ctx *Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ctx.Turns) == 0 {
		return ""
	}

	turns := ctx.Turns
	if len(turns) > s.cfg.Window {
		turns = turns[len(turns)-s.cfg.Window:]
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for i, t := range turns {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t.Role, util.TruncateRunes(t.Content, 100))
	}
	if len(ctx.Topics) > 0 {
		b.WriteString("Topics: " + strings.Join(ctx.Topics, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Clear drops all sessions.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = make(map[string]*Context)
}

// evictExpiredLocked removes sessions idle longer than the expiration window.
// Caller must hold s.mu.
func (s *Store) evictExpiredLocked() {
	cutoff := s.now().Add(-s.cfg.Expiration)
	for id, ctx := range s.contexts {
		if ctx.Accessed.Before(cutoff) {
			delete(s.contexts, id)
		}
	}
}

// =============================================================================
// TOPIC EXTRACTION
// =============================================================================

// stopWords are dropped before topic extraction. Deliberately small; this is
// a cheap heuristic, not NLP.
var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "being": true,
	"could": true, "every": true, "first": true, "found": true,
	"great": true, "house": true, "large": true, "learn": true,
	"never": true, "other": true, "place": true, "plant": true,
	"point": true, "right": true, "small": true, "sound": true,
	"spell": true, "still": true, "study": true, "their": true,
	"there": true, "these": true, "thing": true, "think": true,
	"three": true, "water": true, "where": true, "which": true,
	"world": true, "would": true, "write": true, "should": true,
	"please": true,
}

// ExtractTopics pulls up to three topic words from user content:
// lowercase, whitespace split, stop words dropped, words longer than four
// characters kept, first three taken.
func ExtractTopics(content string) []string {
	words := strings.Fields(strings.ToLower(content))

	topics := make([]string, 0, 3)
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) <= 4 || stopWords[w] {
			continue
		}
		topics = append(topics, w)
		if len(topics) == 3 {
			break
		}
	}
	return topics
}

// mergeTopics appends new topics, deduplicating so a repeated topic moves to
// the most-recent position, and trims to the last max entries.
func mergeTopics(existing, incoming []string, max int) []string {
	for _, t := range incoming {
		for i, e := range existing {
			if e == t {
				existing = append(existing[:i], existing[i+1:]...)
				break
			}
		}
		existing = append(existing, t)
	}
	if len(existing) > max {
		existing = existing[len(existing)-max:]
	}
	return existing
}
