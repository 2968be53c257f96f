// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestLogAndRecent(t *testing.T) {
	s := openTestStore(t)

	s.Log(Record{
		UserID:         "u1",
		Prompt:         "what are scope 2 emissions",
		RequestedModel: "deepseek-chat",
		ModelUsed:      "deepseek-chat",
		Status:         StatusCompleted,
		ProcessingMS:   1234,
		Tokens:         40,
		Metadata: Metadata{
			Reason:      "Standard query",
			Complexity:  0.42,
			ContextSize: 2,
			Topics:      []string{"emissions", "scope"},
		},
	})

	records, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}

	rec := records[0]
	if rec.ID == "" {
		t.Error("ID should be assigned on write")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on write")
	}
	if rec.UserID != "u1" || rec.Status != StatusCompleted || rec.Tokens != 40 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Metadata.Reason != "Standard query" || rec.Metadata.Complexity != 0.42 {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
	if len(rec.Metadata.Topics) != 2 {
		t.Errorf("topics = %v", rec.Metadata.Topics)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Log(Record{
			UserID:    "u1",
			Prompt:    "p",
			Status:    StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	records, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want limit applied", len(records))
	}
	if !records[0].CreatedAt.After(records[1].CreatedAt) {
		t.Errorf("expected newest first, got %v then %v", records[0].CreatedAt, records[1].CreatedAt)
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	s.Log(Record{UserID: "u1", Prompt: "p", Status: StatusRejected})

	records, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records", len(records))
	}
}

func TestCount(t *testing.T) {
	s := openTestStore(t)

	if n, err := s.Count(); err != nil || n != 0 {
		t.Fatalf("empty count = %d, err %v", n, err)
	}

	s.Log(Record{UserID: "u1", Prompt: "a", Status: StatusCompleted})
	s.Log(Record{UserID: "u2", Prompt: "b", Status: StatusFailed, ErrorMessage: "cloud backend: boom"})

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d", n)
	}
}

func TestManualOverrideRoundTrip(t *testing.T) {
	s := openTestStore(t)
	s.Log(Record{UserID: "u1", Prompt: "p", ManualOverride: true, Status: StatusCompleted})

	records, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if !records[0].ManualOverride {
		t.Error("manual override flag lost in round trip")
	}
}
