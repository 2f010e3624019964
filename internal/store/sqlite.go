// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence and the agent directory with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes writers.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			status            TEXT NOT NULL,
			participants_json TEXT NOT NULL DEFAULT '[]',
			assigned_to       TEXT,
			priority          TEXT NOT NULL DEFAULT '',
			tags_json         TEXT NOT NULL DEFAULT '[]',
			source            TEXT NOT NULL DEFAULT '',
			team_id           TEXT NOT NULL DEFAULT '',
			escalated_at      TEXT,
			escalation_reason TEXT NOT NULL DEFAULT '',
			resolved_at       TEXT,
			resolution_reason TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (status IN ('open', 'pending', 'active', 'resolved', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_assignee
			ON conversations(assigned_to, status);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			metadata_json   TEXT NOT NULL DEFAULT '{}',
			created_at      TEXT NOT NULL,
			edited_at       TEXT,
			deleted_at      TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			presence     TEXT NOT NULL DEFAULT 'offline',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (presence IN ('online', 'away', 'busy', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_presence ON agents(presence);

		CREATE TABLE IF NOT EXISTS teams (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS team_members (
			team_id    TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
			agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,

			PRIMARY KEY (team_id, agent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_team_members_agent ON team_members(agent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseOptionalTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicate if a conversation with the same ID exists.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if !conv.Status.Valid() {
		return fmt.Errorf("invalid conversation status %q", conv.Status)
	}
	participants, err := marshalStrings(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	tags, err := marshalStrings(conv.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	query := `
		INSERT INTO conversations (
			id, status, participants_json, assigned_to, priority, tags_json,
			source, team_id, escalated_at, escalation_reason, resolved_at, resolution_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var assignedTo any
	if conv.AssignedTo != nil {
		assignedTo = *conv.AssignedTo
	}

	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		string(conv.Status),
		participants,
		assignedTo,
		conv.Priority,
		tags,
		conv.Metadata.Source,
		conv.Metadata.TeamID,
		formatOptionalTime(conv.Metadata.EscalatedAt),
		conv.Metadata.EscalationReason,
		formatOptionalTime(conv.Metadata.ResolvedAt),
		conv.Metadata.ResolutionReason,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "status", conv.Status)
	return nil
}

const conversationColumns = `
	id, status, participants_json, assigned_to, priority, tags_json,
	source, team_id, escalated_at, escalation_reason, resolved_at, resolution_reason,
	created_at, updated_at
`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var status, participants, tags, createdAt, updatedAt string
	var assignedTo, escalatedAt, resolvedAt sql.NullString

	err := row.Scan(
		&conv.ID,
		&status,
		&participants,
		&assignedTo,
		&conv.Priority,
		&tags,
		&conv.Metadata.Source,
		&conv.Metadata.TeamID,
		&escalatedAt,
		&conv.Metadata.EscalationReason,
		&resolvedAt,
		&conv.Metadata.ResolutionReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Status = ConversationStatus(status)
	if assignedTo.Valid {
		id := assignedTo.String
		conv.AssignedTo = &id
	}
	if err := json.Unmarshal([]byte(participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &conv.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if conv.Metadata.EscalatedAt, err = parseOptionalTime(escalatedAt); err != nil {
		return nil, fmt.Errorf("parsing escalated_at: %w", err)
	}
	if conv.Metadata.ResolvedAt, err = parseOptionalTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// updateOpenConversation runs a single guarded UPDATE against a non-closed
// conversation and returns the updated row. A zero-row update is resolved
// into ErrNotFound or ErrConversationClosed.
func (s *SQLiteStore) updateOpenConversation(ctx context.Context, id, query string, args ...any) (*Conversation, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConversationClosed
	}

	return s.GetConversation(ctx, id)
}

// EscalateConversation assigns a conversation to an agent and reopens it.
func (s *SQLiteStore) EscalateConversation(ctx context.Context, id string, esc Escalation) (*Conversation, error) {
	query := `
		UPDATE conversations
		SET status = 'open', assigned_to = ?, team_id = ?, escalated_at = ?,
			escalation_reason = ?, updated_at = ?
		WHERE id = ? AND status != 'closed'
	`
	conv, err := s.updateOpenConversation(ctx, id, query,
		esc.AgentID,
		esc.TeamID,
		formatTime(esc.At),
		esc.Reason,
		formatTime(esc.At),
		id,
	)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("escalated conversation", "id", id, "agent_id", esc.AgentID, "team_id", esc.TeamID)
	return conv, nil
}

// ResolveConversation marks a conversation resolved.
func (s *SQLiteStore) ResolveConversation(ctx context.Context, id string, res Resolution) (*Conversation, error) {
	query := `
		UPDATE conversations
		SET status = 'resolved', resolved_at = ?, resolution_reason = ?, updated_at = ?
		WHERE id = ? AND status != 'closed'
	`
	conv, err := s.updateOpenConversation(ctx, id, query,
		formatTime(res.At),
		res.Reason,
		formatTime(res.At),
		id,
	)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("resolved conversation", "id", id)
	return conv, nil
}

// SaveMessage stores a message. The conversation must exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding message metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, metadata_json, created_at, edited_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msgType,
		string(meta),
		formatTime(msg.CreatedAt),
		formatOptionalTime(msg.EditedAt),
		formatOptionalTime(msg.DeletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("saving message for conversation %s: %w", msg.ConversationID, ErrNotFound)
		}
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessages retrieves the most recent messages of a conversation in chronological order.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, conversation_id, sender_id, content, type, metadata_json, created_at, edited_at, deleted_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var meta, createdAt string
		var editedAt, deletedAt sql.NullString

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &meta, &createdAt, &editedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding message metadata: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if msg.EditedAt, err = parseOptionalTime(editedAt); err != nil {
			return nil, fmt.Errorf("parsing edited_at: %w", err)
		}
		if msg.DeletedAt, err = parseOptionalTime(deletedAt); err != nil {
			return nil, fmt.Errorf("parsing deleted_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}
