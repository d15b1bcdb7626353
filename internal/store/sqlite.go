// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/profile/handoff persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
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
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			platform        TEXT NOT NULL,
			mode            TEXT NOT NULL DEFAULT 'ai',
			emotional_state TEXT NOT NULL DEFAULT '',
			last_activity   DATETIME NOT NULL,
			last_sequence   INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,

			CHECK (mode IN ('ai', 'human'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_platform
			ON conversations(user_id, platform);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			intent          TEXT,
			confidence      REAL NOT NULL DEFAULT 0,
			emotion         TEXT,
			handled_by      TEXT NOT NULL DEFAULT 'ai',
			created_at      DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS client_profiles (
			user_id          TEXT NOT NULL,
			platform         TEXT NOT NULL,
			first_contact_at DATETIME NOT NULL,
			last_contact_at  DATETIME NOT NULL,
			conversations    INTEGER NOT NULL DEFAULT 0,
			messages         INTEGER NOT NULL DEFAULT 0,
			tags             TEXT NOT NULL DEFAULT '',
			notes            TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, platform)
		);

		CREATE TABLE IF NOT EXISTS handoffs (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL,
			reason            TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			severity          TEXT NOT NULL DEFAULT 'medium',
			status            TEXT NOT NULL DEFAULT 'pending',
			initiated_at      DATETIME NOT NULL,
			notified_at       DATETIME,
			accepted_at       DATETIME,
			resolved_at       DATETIME,
			assigned_operator TEXT NOT NULL DEFAULT '',
			accepted_by       TEXT NOT NULL DEFAULT '',
			outcome           TEXT NOT NULL DEFAULT '',

			CHECK (status IN ('pending', 'notified', 'accepted', 'resolved'))
		);

		CREATE INDEX IF NOT EXISTS idx_handoffs_status ON handoffs(status);
		CREATE INDEX IF NOT EXISTS idx_handoffs_conversation ON handoffs(conversation_id);

		CREATE TABLE IF NOT EXISTS facts (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS catalog_items (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			available  INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
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

// CreateConversation creates a new conversation. A user may hold any
// number of conversations (private chat, groups); only the conversation
// id itself is unique, and reusing one returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, platform, mode, emotional_state, last_activity, last_sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.UserID,
		conv.Platform,
		conv.Mode,
		conv.EmotionalState,
		conv.LastActivity.UTC().Format(time.RFC3339),
		conv.LastSequence,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "platform", conv.Platform)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, user_id, platform, mode, emotional_state, last_activity, last_sequence, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var lastActivityStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Platform,
		&conv.Mode,
		&conv.EmotionalState,
		&lastActivityStr,
		&conv.LastSequence,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.LastActivity, err = time.Parse(time.RFC3339, lastActivityStr); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// UpdateConversation updates an existing conversation.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		UPDATE conversations
		SET mode = ?, emotional_state = ?, last_activity = ?, last_sequence = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		conv.Mode,
		conv.EmotionalState,
		conv.LastActivity.UTC().Format(time.RFC3339),
		conv.LastSequence,
		time.Now().UTC().Format(time.RFC3339),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns conversations ordered by most recent activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, platform, mode, emotional_state, last_activity, last_sequence, created_at, updated_at
		FROM conversations
		ORDER BY last_activity DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var lastActivityStr, createdAtStr, updatedAtStr string
		if err := rows.Scan(
			&conv.ID,
			&conv.UserID,
			&conv.Platform,
			&conv.Mode,
			&conv.EmotionalState,
			&lastActivityStr,
			&conv.LastSequence,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if conv.LastActivity, err = time.Parse(time.RFC3339, lastActivityStr); err != nil {
			return nil, fmt.Errorf("parsing last_activity: %w", err)
		}
		if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// SaveMessage appends a message to a conversation's history.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, intent, confidence, emotion, handled_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Text,
		msg.Intent,
		msg.Confidence,
		msg.Emotion,
		msg.HandledBy,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return nil
}

// GetMessages returns the most recent messages for a conversation in
// chronological order (oldest first).
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Grab the newest N, then reverse into chronological order
	query := `
		SELECT id, conversation_id, role, content, COALESCE(intent, ''), confidence, COALESCE(emotion, ''), handled_by, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Text,
			&msg.Intent,
			&msg.Confidence,
			&msg.Emotion,
			&msg.HandledBy,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessages removes all history for a conversation. Used by reset.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	s.logger.Debug("deleted messages", "conversation_id", conversationID)
	return nil
}

// GetProfile retrieves a client profile by user ID and platform.
// Returns ErrNotFound if no profile exists.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID, platform string) (*ClientProfile, error) {
	query := `
		SELECT user_id, platform, first_contact_at, last_contact_at, conversations, messages, tags, notes
		FROM client_profiles
		WHERE user_id = ? AND platform = ?
	`

	var p ClientProfile
	var firstStr, lastStr, tags string

	err := s.db.QueryRowContext(ctx, query, userID, platform).Scan(
		&p.UserID,
		&p.Platform,
		&firstStr,
		&lastStr,
		&p.Conversations,
		&p.Messages,
		&tags,
		&p.Notes,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	if p.FirstContactAt, err = time.Parse(time.RFC3339, firstStr); err != nil {
		return nil, fmt.Errorf("parsing first_contact_at: %w", err)
	}
	if p.LastContactAt, err = time.Parse(time.RFC3339, lastStr); err != nil {
		return nil, fmt.Errorf("parsing last_contact_at: %w", err)
	}
	if tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	return &p, nil
}

// UpsertProfile inserts or replaces a client profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *ClientProfile) error {
	query := `
		INSERT INTO client_profiles (user_id, platform, first_contact_at, last_contact_at, conversations, messages, tags, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, platform) DO UPDATE SET
			last_contact_at = excluded.last_contact_at,
			conversations = excluded.conversations,
			messages = excluded.messages,
			tags = excluded.tags,
			notes = excluded.notes
	`

	_, err := s.db.ExecContext(ctx, query,
		profile.UserID,
		profile.Platform,
		profile.FirstContactAt.UTC().Format(time.RFC3339),
		profile.LastContactAt.UTC().Format(time.RFC3339),
		profile.Conversations,
		profile.Messages,
		strings.Join(profile.Tags, ","),
		profile.Notes,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// CreateHandoff stores a new handoff record.
func (s *SQLiteStore) CreateHandoff(ctx context.Context, rec *HandoffRecord) error {
	query := `
		INSERT INTO handoffs (id, conversation_id, reason, description, severity, status, initiated_at, notified_at, accepted_at, resolved_at, assigned_operator, accepted_by, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConversationID,
		rec.Reason,
		rec.Description,
		rec.Severity,
		rec.Status,
		rec.InitiatedAt.UTC().Format(time.RFC3339),
		nullableTime(rec.NotifiedAt),
		nullableTime(rec.AcceptedAt),
		nullableTime(rec.ResolvedAt),
		rec.AssignedOperator,
		rec.AcceptedBy,
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("inserting handoff: %w", err)
	}

	s.logger.Debug("created handoff", "id", rec.ID, "conversation_id", rec.ConversationID, "reason", rec.Reason)
	return nil
}

// GetHandoff retrieves a handoff record by ID.
func (s *SQLiteStore) GetHandoff(ctx context.Context, id string) (*HandoffRecord, error) {
	query := `
		SELECT id, conversation_id, reason, description, severity, status, initiated_at, notified_at, accepted_at, resolved_at, assigned_operator, accepted_by, outcome
		FROM handoffs
		WHERE id = ?
	`

	var rec HandoffRecord
	var initiatedStr string
	var notifiedStr, acceptedStr, resolvedStr sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.ConversationID,
		&rec.Reason,
		&rec.Description,
		&rec.Severity,
		&rec.Status,
		&initiatedStr,
		&notifiedStr,
		&acceptedStr,
		&resolvedStr,
		&rec.AssignedOperator,
		&rec.AcceptedBy,
		&rec.Outcome,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying handoff: %w", err)
	}

	if rec.InitiatedAt, err = time.Parse(time.RFC3339, initiatedStr); err != nil {
		return nil, fmt.Errorf("parsing initiated_at: %w", err)
	}
	if rec.NotifiedAt, err = parseNullableTime(notifiedStr); err != nil {
		return nil, fmt.Errorf("parsing notified_at: %w", err)
	}
	if rec.AcceptedAt, err = parseNullableTime(acceptedStr); err != nil {
		return nil, fmt.Errorf("parsing accepted_at: %w", err)
	}
	if rec.ResolvedAt, err = parseNullableTime(resolvedStr); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}

	return &rec, nil
}

// UpdateHandoff updates an existing handoff record.
func (s *SQLiteStore) UpdateHandoff(ctx context.Context, rec *HandoffRecord) error {
	query := `
		UPDATE handoffs
		SET status = ?, notified_at = ?, accepted_at = ?, resolved_at = ?, assigned_operator = ?, accepted_by = ?, outcome = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.Status,
		nullableTime(rec.NotifiedAt),
		nullableTime(rec.AcceptedAt),
		nullableTime(rec.ResolvedAt),
		rec.AssignedOperator,
		rec.AcceptedBy,
		rec.Outcome,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating handoff: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHandoffs returns handoff records, optionally filtered by status,
// newest first.
func (s *SQLiteStore) ListHandoffs(ctx context.Context, status string, limit int) ([]*HandoffRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, conversation_id, reason, description, severity, status, initiated_at, notified_at, accepted_at, resolved_at, assigned_operator, accepted_by, outcome
		FROM handoffs
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY initiated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing handoffs: %w", err)
	}
	defer rows.Close()

	var recs []*HandoffRecord
	for rows.Next() {
		var rec HandoffRecord
		var initiatedStr string
		var notifiedStr, acceptedStr, resolvedStr sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.ConversationID,
			&rec.Reason,
			&rec.Description,
			&rec.Severity,
			&rec.Status,
			&initiatedStr,
			&notifiedStr,
			&acceptedStr,
			&resolvedStr,
			&rec.AssignedOperator,
			&rec.AcceptedBy,
			&rec.Outcome,
		); err != nil {
			return nil, fmt.Errorf("scanning handoff: %w", err)
		}
		if rec.InitiatedAt, err = time.Parse(time.RFC3339, initiatedStr); err != nil {
			return nil, fmt.Errorf("parsing initiated_at: %w", err)
		}
		if rec.NotifiedAt, err = parseNullableTime(notifiedStr); err != nil {
			return nil, fmt.Errorf("parsing notified_at: %w", err)
		}
		if rec.AcceptedAt, err = parseNullableTime(acceptedStr); err != nil {
			return nil, fmt.Errorf("parsing accepted_at: %w", err)
		}
		if rec.ResolvedAt, err = parseNullableTime(resolvedStr); err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SaveFact stores a knowledge base fact.
func (s *SQLiteStore) SaveFact(ctx context.Context, fact *Fact) error {
	query := `
		INSERT INTO facts (id, topic, content, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET topic = excluded.topic, content = excluded.content, source = excluded.source
	`

	_, err := s.db.ExecContext(ctx, query,
		fact.ID,
		fact.Topic,
		fact.Text,
		fact.Source,
		fact.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting fact: %w", err)
	}
	return nil
}

// ListFacts returns all knowledge base facts.
func (s *SQLiteStore) ListFacts(ctx context.Context) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, topic, content, source, created_at FROM facts`)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		var f Fact
		var createdAtStr string
		if err := rows.Scan(&f.ID, &f.Topic, &f.Text, &f.Source, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

// SaveCatalogItem stores or updates a catalog item.
func (s *SQLiteStore) SaveCatalogItem(ctx context.Context, item *CatalogItem) error {
	query := `
		INSERT INTO catalog_items (id, name, summary, available, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, summary = excluded.summary, available = excluded.available, updated_at = excluded.updated_at
	`

	available := 0
	if item.Available {
		available = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.Summary,
		available,
		item.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting catalog item: %w", err)
	}
	return nil
}

// ListCatalogItems returns the full catalog, stable order by name.
func (s *SQLiteStore) ListCatalogItems(ctx context.Context) ([]*CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, summary, available, updated_at FROM catalog_items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing catalog items: %w", err)
	}
	defer rows.Close()

	var items []*CatalogItem
	for rows.Next() {
		var item CatalogItem
		var available int
		var updatedAtStr string
		if err := rows.Scan(&item.ID, &item.Name, &item.Summary, &available, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning catalog item: %w", err)
		}
		item.Available = available != 0
		if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
