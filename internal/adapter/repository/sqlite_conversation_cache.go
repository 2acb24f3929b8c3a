package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"agrolink/internal/domain/entity"
	"agrolink/pkg/logger"
)

// SQLiteConversationCache implements repository.ConversationCache on a local
// SQLite file. Rows are namespaced by owner_id so that switching accounts on
// a shared device never leaks another user's list.
type SQLiteConversationCache struct {
	db *sql.DB
}

func NewSQLiteConversationCache(dbPath string) (*SQLiteConversationCache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	cache := &SQLiteConversationCache{db: db}

	if err := cache.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}

	return cache, nil
}

func (c *SQLiteConversationCache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		owner_id        TEXT NOT NULL,
		counterpart_id  TEXT NOT NULL,
		display_name    TEXT,
		avatar_url      TEXT,
		role            TEXT,
		last_message    TEXT,
		last_message_at DATETIME,
		unread_count    INTEGER DEFAULT 0,
		position        INTEGER NOT NULL,
		PRIMARY KEY (owner_id, counterpart_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, position);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Load returns the cached list in stored order. Any failure reads as a cache
// miss: the caller gets an empty list, never an error.
func (c *SQLiteConversationCache) Load(ctx context.Context, ownerID string) []entity.Conversation {
	rows, err := c.db.QueryContext(ctx,
		`SELECT counterpart_id, display_name, avatar_url, role, last_message, last_message_at, unread_count
		 FROM conversations WHERE owner_id = ? ORDER BY position`, ownerID,
	)
	if err != nil {
		logger.Warn("Cache load failed for user %s, treating as empty: %v", ownerID, err)
		return nil
	}
	defer rows.Close()

	var list []entity.Conversation
	for rows.Next() {
		var conv entity.Conversation
		var lastMessageAt sql.NullTime
		if err := rows.Scan(&conv.CounterpartID, &conv.DisplayName, &conv.AvatarURL,
			&conv.Role, &conv.LastMessage, &lastMessageAt, &conv.UnreadCount); err != nil {
			logger.Warn("Cache row corrupted for user %s, treating as empty: %v", ownerID, err)
			return nil
		}
		if lastMessageAt.Valid {
			conv.LastMessageAt = lastMessageAt.Time
		}
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		conv.Role = entity.NormalizeRole(conv.Role)
		conv.Origin = entity.OriginLocal
		list = append(list, conv)
	}
	if err := rows.Err(); err != nil {
		logger.Warn("Cache read failed for user %s, treating as empty: %v", ownerID, err)
		return nil
	}
	return list
}

// Save replaces the owner's cached list atomically. Failure is non-fatal for
// callers; they keep serving the in-memory list.
func (c *SQLiteConversationCache) Save(ctx context.Context, ownerID string, list []entity.Conversation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE owner_id = ?`, ownerID); err != nil {
		return err
	}

	for i, conv := range list {
		var lastMessageAt interface{}
		if !conv.LastMessageAt.IsZero() {
			lastMessageAt = conv.LastMessageAt.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (owner_id, counterpart_id, display_name, avatar_url, role, last_message, last_message_at, unread_count, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ownerID, conv.CounterpartID, conv.DisplayName, conv.AvatarURL, conv.Role,
			conv.LastMessage, lastMessageAt, conv.UnreadCount, i,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (c *SQLiteConversationCache) Close() error {
	return c.db.Close()
}
