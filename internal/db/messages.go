package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studylib/internal/constants"
	"studylib/internal/models"
)

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateRoomMessage stores a message posted to a chat room.
func (r *MessageRepository) CreateRoomMessage(ctx context.Context, authorID, room, content string) (*models.Message, error) {
	return r.create(ctx, &models.Message{AuthorID: authorID, Room: room, Content: content})
}

// CreateDirectMessage stores a message addressed to a single account.
func (r *MessageRepository) CreateDirectMessage(ctx context.Context, authorID, recipientID, content string) (*models.Message, error) {
	return r.create(ctx, &models.Message{AuthorID: authorID, RecipientID: recipientID, Content: content})
}

func (r *MessageRepository) create(ctx context.Context, m *models.Message) (*models.Message, error) {
	id, err := NewID(MessageID)
	if err != nil {
		return nil, fmt.Errorf("generating message ID: %w", err)
	}
	m.ID = id
	m.CreatedAt = time.Now().UTC()

	var room, recipient sql.NullString
	if m.IsDirect() {
		recipient = sql.NullString{String: m.RecipientID, Valid: true}
	} else {
		room = sql.NullString{String: m.Room, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, author_id, room, recipient_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.AuthorID, room, recipient, m.Content, m.CreatedAt,
	)
	if err != nil {
		return nil, unavailable("creating message", err)
	}

	return m, nil
}

// RoomHistory returns up to limit messages of a room, newest first, older
// than beforeID when it is set.
func (r *MessageRepository) RoomHistory(ctx context.Context, room, beforeID string, limit int) ([]*models.Message, error) {
	query := `SELECT m.id, m.author_id, a.name, m.room, m.recipient_id, m.content, m.created_at, m.edited_at
		FROM messages m
		LEFT JOIN accounts a ON m.author_id = a.id
		WHERE m.room = ?`
	args := []any{room}

	if beforeID != "" {
		query += ` AND m.rowid < (SELECT rowid FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}

	return r.history(ctx, query, args, limit)
}

// DirectHistory returns the conversation between two accounts, newest first.
func (r *MessageRepository) DirectHistory(ctx context.Context, accountID, otherID, beforeID string, limit int) ([]*models.Message, error) {
	query := `SELECT m.id, m.author_id, a.name, m.room, m.recipient_id, m.content, m.created_at, m.edited_at
		FROM messages m
		LEFT JOIN accounts a ON m.author_id = a.id
		WHERE ((m.author_id = ? AND m.recipient_id = ?) OR (m.author_id = ? AND m.recipient_id = ?))`
	args := []any{accountID, otherID, otherID, accountID}

	if beforeID != "" {
		query += ` AND m.rowid < (SELECT rowid FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}

	return r.history(ctx, query, args, limit)
}

func (r *MessageRepository) history(ctx context.Context, query string, args []any, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > constants.MessageHistoryMaxLimit {
		limit = constants.MessageHistoryDefaultLimit
	}
	query += ` ORDER BY m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying messages", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		var authorName, room, recipient sql.NullString
		var editedAt sql.NullTime

		if err := rows.Scan(&m.ID, &m.AuthorID, &authorName, &room, &recipient, &m.Content, &m.CreatedAt, &editedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.AuthorName = authorName.String
		m.Room = room.String
		m.RecipientID = recipient.String
		m.EditedAt = nullTimeToPtr(editedAt)
		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating messages", err)
	}

	return messages, nil
}
