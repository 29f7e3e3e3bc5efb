// ABOUTME: SQLite-backed session-continuity store keyed by conversation
// ABOUTME: Maps a conversation to the agent session token a later job resumes with

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation has no stored session.
var ErrNotFound = errors.New("session not found")

// Store persists the conversation -> session token mapping. Conversation and
// queue state is rebuilt per process lifetime; only this mapping survives a
// restart so conversations keep their context.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the session database at the given path.
// Parent directories are created if needed.
func NewStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "session")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps the bridge's reads from blocking on token updates
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session store initialized", "path", path)
	return s, nil
}

// createSchema creates the sessions table if it doesn't exist.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			conversation_key TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			created_at       DATETIME NOT NULL,
			updated_at       DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Get returns the session token for a conversation, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id FROM sessions WHERE conversation_key = ?", key,
	).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying session: %w", err)
	}
	return sessionID, nil
}

// GetOrCreate returns the conversation's session token, creating a fresh one
// when none exists.
func (s *Store) GetOrCreate(ctx context.Context, key string) (string, error) {
	sessionID, err := s.Get(ctx, key)
	if err == nil {
		return sessionID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	sessionID = uuid.New().String()
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation_key, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO NOTHING`,
		key, sessionID, now, now)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	// Re-read in case a concurrent insert won the conflict.
	got, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s.logger.Debug("session resolved", "conversation", key, "session_id", got)
	return got, nil
}

// UpdateToken records the token the agent reported for this conversation.
func (s *Store) UpdateToken(ctx context.Context, key, token string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (conversation_key, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		key, token, now, now)
	if err != nil {
		return fmt.Errorf("updating session token: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
