// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"sync"
	"testing"
)

func TestFailureTrackerCounts(t *testing.T) {
	tr := NewFailureTracker()

	if tr.Count() != 0 {
		t.Fatalf("fresh tracker count = %d", tr.Count())
	}

	tr.RecordFailure()
	tr.RecordFailure()
	tr.RecordFailure()
	if tr.Count() != 3 {
		t.Errorf("count after 3 failures = %d", tr.Count())
	}
}

func TestFailureTrackerResetOnSuccess(t *testing.T) {
	tr := NewFailureTracker()

	tr.RecordFailure()
	tr.RecordFailure()
	tr.RecordSuccess()

	if tr.Count() != 0 {
		t.Fatalf("count after success = %d, want 0", tr.Count())
	}

	tr.RecordFailure()
	if tr.Count() != 1 {
		t.Errorf("count should resume from zero, got %d", tr.Count())
	}
}

func TestFailureTrackerConcurrent(t *testing.T) {
	tr := NewFailureTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordFailure()
		}()
	}
	wg.Wait()

	if tr.Count() != 50 {
		t.Errorf("count = %d, want 50", tr.Count())
	}
}
