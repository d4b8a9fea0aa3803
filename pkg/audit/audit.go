// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit persists low-quality exchanges and user feedback for
// offline review. Writes are fire-and-forget: a failing audit store is
// logged and never propagates to the request path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MaxFeedbackLen caps stored user feedback text.
const MaxFeedbackLen = 2000

// Record is one audited exchange. Transcript holds every message of
// the conversation; ToolCalls carry the raw, uncompressed results so
// reviewers see what the model saw before projection.
type Record struct {
	ID         string
	SessionID  string
	Query      string
	Response   string
	Transcript []TranscriptEntry
	ToolCalls  []ToolCallRecord
	Score      int
	Reasoning  string
	Feedback   string
	CreatedAt  time.Time
}

// TranscriptEntry is one message in an audited exchange's transcript.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCallRecord is one tool invocation within an audited exchange.
type ToolCallRecord struct {
	Name       string                 `json:"name"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"duration_ms"`
}

// Store is the SQLite-backed audit sink.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenStore opens (or creates) the audit database at path. Use
// ":memory:" for tests.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '[]',
			tool_calls TEXT NOT NULL DEFAULT '[]',
			score INTEGER NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			feedback TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at);
	`)
	if err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write persists a record. Errors are logged, never returned: the
// caller has already answered the user and must not fail now.
func (s *Store) Write(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Feedback = truncateFeedback(rec.Feedback)

	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		transcript = []byte("[]")
	}
	toolCalls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		toolCalls = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, session_id, query, response, transcript, tool_calls, score, reasoning, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Query, rec.Response, string(transcript), string(toolCalls),
		rec.Score, rec.Reasoning, rec.Feedback, rec.CreatedAt.Unix())
	if err != nil {
		s.logger.Error("audit write failed",
			zap.String("session_id", rec.SessionID), zap.Error(err))
		return
	}
	s.logger.Info("exchange audited",
		zap.String("session_id", rec.SessionID),
		zap.Int("score", rec.Score))
}

// AttachFeedback stores user feedback against an existing session's
// records. Missing records are not an error: feedback may arrive for
// exchanges that scored well and were never audited, in which case a
// feedback-only record is created.
func (s *Store) AttachFeedback(ctx context.Context, sessionID, feedback string) {
	feedback = truncateFeedback(feedback)

	res, err := s.db.ExecContext(ctx,
		"UPDATE audit_records SET feedback = ? WHERE session_id = ?",
		feedback, sessionID)
	if err != nil {
		s.logger.Error("feedback write failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return
	}

	s.Write(ctx, Record{
		SessionID: sessionID,
		Query:     "",
		Response:  "",
		Score:     -1, // feedback-only, no verdict
		Feedback:  feedback,
	})
}

// Recent returns up to limit records, newest first. Used by review
// tooling and tests.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, query, response, transcript, tool_calls, score, reasoning, feedback, created_at
		FROM audit_records ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var transcript, toolCalls string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Query, &rec.Response,
			&transcript, &toolCalls, &rec.Score, &rec.Reasoning, &rec.Feedback, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(transcript), &rec.Transcript)
		_ = json.Unmarshal([]byte(toolCalls), &rec.ToolCalls)
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// truncateFeedback caps feedback at MaxFeedbackLen bytes, backing up
// to a rune boundary so a multi-byte character is never split.
func truncateFeedback(feedback string) string {
	if len(feedback) <= MaxFeedbackLen {
		return feedback
	}
	cut := MaxFeedbackLen
	for cut > 0 && !utf8.RuneStart(feedback[cut]) {
		cut--
	}
	return feedback[:cut]
}
