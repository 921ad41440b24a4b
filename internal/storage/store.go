// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dotnetfactory/model-faceoff/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence gateway backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
func Open(path string) (*Store, error) {
	// Create database directory if needed
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
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
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation inserts a new conversation. CreatedAt/UpdatedAt are set
// if zero.
func (s *Store) CreateConversation(conv *model.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	modelIDs, err := json.Marshal(conv.ModelIDs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO conversations (id, title, model_ids, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, string(modelIDs), conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// UpdateConversationTitle sets the title for a conversation.
func (s *Store) UpdateConversationTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation bumps the updated_at timestamp.
func (s *Store) TouchConversation(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetConversation loads one conversation by id.
func (s *Store) GetConversation(id string) (*model.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, title, model_ids, created_at, updated_at FROM conversations WHERE id = ?`, id,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations() ([]*model.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, title, model_ids, created_at, updated_at FROM conversations ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and, via the foreign key
// cascade, its messages.
func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		title     sql.NullString
		modelIDs  string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&conv.ID, &title, &modelIDs, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if title.Valid {
		conv.Title = &title.String
	}
	if err := json.Unmarshal([]byte(modelIDs), &conv.ModelIDs); err != nil {
		return nil, fmt.Errorf("%w: corrupt model_ids: %v", ErrDatabaseError, err)
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage inserts a message into its conversation and bumps the
// conversation's updated_at.
func (s *Store) AppendMessage(msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO messages
		 (id, conversation_id, role, content, model_id, panel_idx,
		  prompt_tokens, completion_tokens, latency_ms, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role.String(), msg.Content,
		msg.ModelID, msg.PanelIndex,
		msg.PromptTokens, msg.CompletionTokens, msg.LatencyMs, msg.Cost,
		msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	_, err = tx.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.Unix(), msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// GetMessages returns all messages of a conversation in insertion order.
func (s *Store) GetMessages(conversationID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, model_id, panel_idx,
		        prompt_tokens, completion_tokens, latency_ms, cost, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var (
			msg       model.Message
			role      string
			createdAt int64
		)
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&msg.ModelID, &msg.PanelIndex,
			&msg.PromptTokens, &msg.CompletionTokens, &msg.LatencyMs, &msg.Cost,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// =============================================================================
// API LOGS
// =============================================================================

// AppendAPILog records one provider call outcome.
func (s *Store) AppendAPILog(entry *model.APILog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO api_logs
		 (model_id, prompt_tokens, completion_tokens, total_tokens, latency_ms,
		  cost, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelID, entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.LatencyMs, entry.Cost, entry.Status, entry.ErrorMessage,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAPILogs returns the most recent API log entries, newest first.
func (s *Store) ListAPILogs(limit int) ([]*model.APILog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, model_id, prompt_tokens, completion_tokens, total_tokens,
		        latency_ms, cost, status, error_message, created_at
		 FROM api_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var logs []*model.APILog
	for rows.Next() {
		var (
			entry     model.APILog
			createdAt int64
		)
		err := rows.Scan(
			&entry.ID, &entry.ModelID, &entry.PromptTokens, &entry.CompletionTokens,
			&entry.TotalTokens, &entry.LatencyMs, &entry.Cost, &entry.Status,
			&entry.ErrorMessage, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// =============================================================================
// PRESETS
// =============================================================================

// SavePreset inserts or replaces a named panel selection.
func (s *Store) SavePreset(preset *model.Preset) error {
	if preset.CreatedAt.IsZero() {
		preset.CreatedAt = time.Now()
	}
	modelIDs, err := json.Marshal(preset.ModelIDs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	res, err := s.db.Exec(
		`INSERT INTO presets (name, model_ids, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET model_ids = excluded.model_ids`,
		preset.Name, string(modelIDs), preset.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		preset.ID = id
	}
	return nil
}

// ListPresets returns all presets in name order.
func (s *Store) ListPresets() ([]*model.Preset, error) {
	rows, err := s.db.Query(`SELECT id, name, model_ids, created_at FROM presets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var presets []*model.Preset
	for rows.Next() {
		var (
			preset    model.Preset
			modelIDs  string
			createdAt int64
		)
		if err := rows.Scan(&preset.ID, &preset.Name, &modelIDs, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if err := json.Unmarshal([]byte(modelIDs), &preset.ModelIDs); err != nil {
			return nil, fmt.Errorf("%w: corrupt model_ids: %v", ErrDatabaseError, err)
		}
		preset.CreatedAt = time.Unix(createdAt, 0)
		presets = append(presets, &preset)
	}
	return presets, rows.Err()
}

// DeletePreset removes a preset by name.
func (s *Store) DeletePreset(name string) error {
	res, err := s.db.Exec(`DELETE FROM presets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
