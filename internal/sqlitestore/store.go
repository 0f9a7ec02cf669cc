// Package sqlitestore keeps conversation state in a local SQLite database for
// the operator CLI. It mirrors the DynamoDB repository contract.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"wellbeing-agent/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT    NOT NULL,
	role            TEXT    NOT NULL,
	content         TEXT    NOT NULL,
	created_at      TEXT    NOT NULL,
	crisis          INTEGER NOT NULL DEFAULT 0,
	issues          TEXT    NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS turns_conversation ON turns (conversation_id, id);
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	turns           INTEGER NOT NULL,
	crisis_turns    INTEGER NOT NULL,
	last_activity   TEXT    NOT NULL
);`

// Store is safe for concurrent use; SQLite serialises writers, so the pool is
// limited to a single connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlitestore: path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: init: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetHistory returns up to limit of the most recent turns, oldest first. A
// non-positive limit returns every turn.
func (s *Store) GetHistory(ctx context.Context, conversationID string, limit int) (domain.History, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: GetHistory query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history domain.History
	for rows.Next() {
		var role, content, created string
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("sqlitestore: GetHistory scan: %w", err)
		}
		if !domain.Role(role).Valid() {
			return nil, fmt.Errorf("sqlitestore: GetHistory: unknown role %q", role)
		}
		ts, _ := time.Parse(time.RFC3339Nano, created)
		history = append(history, domain.Turn{Role: domain.Role(role), Content: content, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: GetHistory rows: %w", err)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// GetConversationMeta returns the aggregate record, zero-valued when absent.
func (s *Store) GetConversationMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error) {
	meta := domain.ConversationMeta{ConversationID: conversationID}
	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns, crisis_turns, last_activity FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&meta.Turns, &meta.CrisisTurns, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("sqlitestore: GetConversationMeta: %w", err)
	}
	meta.LastActivity, _ = time.Parse(time.RFC3339Nano, last)
	return meta, nil
}

// SaveExchange appends both turns and bumps the counters in one transaction.
func (s *Store) SaveExchange(ctx context.Context, conversationID string, ex domain.Exchange) (err error) {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("sqlitestore: SaveExchange: conversation id is required")
	}
	issues, err := json.Marshal(nonNil(ex.Issues))
	if err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: encode issues: %w", err)
	}
	crisis := 0
	if ex.CrisisTriggered {
		crisis = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO turns (conversation_id, role, content, created_at, crisis, issues) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, insert, conversationID, string(ex.User.Role), ex.User.Content, stamp(ex.User.Timestamp), crisis, "[]"); err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: insert user turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insert, conversationID, string(ex.Assistant.Role), ex.Assistant.Content, stamp(ex.Assistant.Timestamp), 0, string(issues)); err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: insert assistant turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, turns, crisis_turns, last_activity) VALUES (?, 1, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			turns = turns + 1,
			crisis_turns = crisis_turns + excluded.crisis_turns,
			last_activity = excluded.last_activity`,
		conversationID, crisis, stamp(ex.Assistant.Timestamp)); err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: update conversation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: SaveExchange: commit: %w", err)
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
