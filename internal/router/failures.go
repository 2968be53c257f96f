// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "sync"

// DefaultFallbackThreshold is the consecutive-failure count at which the
// selector starts preferring the local backend.
const DefaultFallbackThreshold = 3

// FailureTracker counts consecutive cloud-backend failures.
// The count is process-local and not persisted; a restart starts at zero.
// Safe for concurrent use.
type FailureTracker struct {
	mu    sync.Mutex
	count int
}

// NewFailureTracker creates a tracker with a zero count.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{}
}

// RecordFailure increments the consecutive-failure count.
func (t *FailureTracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

// RecordSuccess resets the count to zero.
func (t *FailureTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
}

// Count returns the current consecutive-failure count.
func (t *FailureTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
