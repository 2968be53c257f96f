// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"shorter_than_max", "hello", 10, "hello"},
		{"exact_length", "hello", 5, "hello"},
		{"truncated_with_ellipsis", "hello world", 8, "hello..."},
		{"tiny_max_no_ellipsis", "hello", 2, "he"},
		{"zero_max", "hello", 0, ""},
		{"multibyte", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestAtomicWriteFile(t *testing.T) {
	t.Run("creates_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "out.txt")
		if err := AtomicWriteFile(path, []byte("content"), 0600); err != nil {
			t.Fatalf("AtomicWriteFile: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(data) != "content" {
			t.Errorf("data = %q", data)
		}

		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0600 {
			t.Errorf("perm = %v", info.Mode().Perm())
		}
	})

	t.Run("overwrites_existing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.txt")
		if err := AtomicWriteFile(path, []byte("old"), 0644); err != nil {
			t.Fatalf("first write: %v", err)
		}
		if err := AtomicWriteFile(path, []byte("new"), 0644); err != nil {
			t.Fatalf("second write: %v", err)
		}

		data, _ := os.ReadFile(path)
		if string(data) != "new" {
			t.Errorf("data = %q", data)
		}
	})

	t.Run("no_temp_files_left", func(t *testing.T) {
		dir := t.TempDir()
		if err := AtomicWriteFile(filepath.Join(dir, "out.txt"), []byte("x"), 0644); err != nil {
			t.Fatalf("AtomicWriteFile: %v", err)
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("expected only the target file, found %d entries", len(entries))
		}
	})
}
