// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit persists one request-log record per processed or rejected
// request. Writes are fire-and-forget: a failed write is logged locally and
// never fails the request it describes.
package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabaseError = errors.New("database error")
	ErrInvalidPath   = errors.New("invalid path")
)

// Request statuses recorded in the log.
const (
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// =============================================================================
// RECORD
// =============================================================================

// Metadata is the free-form portion of a record, stored as JSON.
type Metadata struct {
	Reason      string   `json:"reason,omitempty"`
	Complexity  float64  `json:"complexity,omitempty"`
	FromCache   bool     `json:"from_cache,omitempty"`
	ContextSize int      `json:"context_size,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// Record is one immutable request-log row.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Prompt         string    `json:"prompt"`
	RequestedModel string    `json:"requested_model,omitempty"`
	ModelUsed      string    `json:"model_used,omitempty"`
	ManualOverride bool      `json:"manual_override"`
	Status         string    `json:"status"`
	ProcessingMS   int64     `json:"processing_ms"`
	Tokens         int       `json:"tokens"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// =============================================================================
// STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	requested_model TEXT NOT NULL DEFAULT '',
	model_used      TEXT NOT NULL DEFAULT '',
	manual_override INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	processing_ms   INTEGER NOT NULL DEFAULT 0,
	tokens          INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at);
CREATE INDEX IF NOT EXISTS idx_request_log_user ON request_log(user_id);
`

// Store is the SQLite-backed request log.
// Safe for concurrent use; database/sql serializes access.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the request log at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrInvalidPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Log writes one record. Errors are swallowed after being logged locally;
// audit failures must never fail the request they describe.
func (s *Store) Log(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		log.Printf("AUDIT_WRITE_FAILED | id=%s error=%v", rec.ID, err)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO request_log
			(id, user_id, prompt, requested_model, model_used, manual_override,
			 status, processing_ms, tokens, error_message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Prompt, rec.RequestedModel, rec.ModelUsed,
		boolToInt(rec.ManualOverride), rec.Status, rec.ProcessingMS,
		rec.Tokens, rec.ErrorMessage, string(meta), rec.CreatedAt,
	)
	if err != nil {
		log.Printf("AUDIT_WRITE_FAILED | id=%s error=%v", rec.ID, err)
	}
}

// Recent returns the n most recent records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, prompt, requested_model, model_used, manual_override,
		       status, processing_ms, tokens, error_message, metadata, created_at
		FROM request_log
		ORDER BY created_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var override int
		var meta string
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Prompt, &rec.RequestedModel,
			&rec.ModelUsed, &override, &rec.Status, &rec.ProcessingMS,
			&rec.Tokens, &rec.ErrorMessage, &meta, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		rec.ManualOverride = override != 0
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			// A corrupt metadata blob should not hide the row
			rec.Metadata = Metadata{}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the total number of records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM request_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
