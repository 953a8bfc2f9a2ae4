package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eternisai/search-chat/internal/storage/pg"
)

const conversationColumns = "id, user_id, title, share_path, created_ts, updated_ts"

// SQLBackend stores conversations row-per-message in Postgres or SQLite.
type SQLBackend struct {
	db *pg.Database
}

func NewSQLBackend(db *pg.Database) *SQLBackend {
	return &SQLBackend{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                 Conversation
		sharePath            sql.NullString
		createdTs, updatedTs int64
	)
	if err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &sharePath, &createdTs, &updatedTs); err != nil {
		return nil, err
	}
	if sharePath.Valid {
		conv.SharePath = &sharePath.String
	}
	conv.CreatedAt = time.UnixMilli(createdTs).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedTs).UTC()
	return &conv, nil
}

func (b *SQLBackend) List(ctx context.Context, ownerID string, limit, offset int) ([]*Conversation, error) {
	p := b.db.Placeholder
	args := []any{ownerID}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ` + p(1) + ` ORDER BY created_ts DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ` + p(2) + ` OFFSET ` + p(3)
		args = append(args, limit, offset)
	}

	rows, err := b.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		list = append(list, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return list, nil
}

func (b *SQLBackend) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	p := b.db.Placeholder
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ` + p(1) + ` AND user_id = ` + p(2)
	return b.getWithMessages(ctx, query, id, ownerID)
}

func (b *SQLBackend) GetShared(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ` + b.db.Placeholder(1) + ` AND share_path IS NOT NULL`
	return b.getWithMessages(ctx, query, id)
}

func (b *SQLBackend) getWithMessages(ctx context.Context, query string, args ...any) (*Conversation, error) {
	conv, err := scanConversation(b.db.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	messages, err := b.listMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	return conv, nil
}

func (b *SQLBackend) listMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `SELECT role, content FROM messages WHERE conversation_id = ` + b.db.Placeholder(1) + ` ORDER BY position ASC`
	rows, err := b.db.DB.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]Message, 0)
	for rows.Next() {
		var (
			msg  Message
			role string
		)
		if err := rows.Scan(&role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = Role(role)
		list = append(list, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return list, nil
}

func (b *SQLBackend) Save(ctx context.Context, conv *Conversation) error {
	tx, err := b.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Insert, or refresh the owned row keeping its first non-empty title. Nothing is
	// returned when the id belongs to another owner.
	fields := []string{"id", "user_id", "title", "created_ts", "updated_ts"}
	stmt := `INSERT INTO conversations (` + strings.Join(fields, ", ") + `)
		VALUES (` + b.db.Placeholders(1, len(fields)) + `)
		ON CONFLICT (id) DO UPDATE SET
			updated_ts = excluded.updated_ts,
			title = CASE WHEN conversations.title = '' THEN excluded.title ELSE conversations.title END
		WHERE conversations.user_id = excluded.user_id
		RETURNING title`

	var title string
	err = tx.QueryRowContext(ctx, stmt,
		conv.ID, conv.OwnerID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	).Scan(&title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotOwned
		}
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if len(conv.Messages) > 0 {
		fields = []string{"id", "conversation_id", "position", "role", "content", "created_ts"}
		insert, err := tx.PrepareContext(ctx, `INSERT INTO messages (`+strings.Join(fields, ", ")+`)
			VALUES (`+b.db.Placeholders(1, len(fields))+`)
			ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare message insert: %w", err)
		}
		defer insert.Close()

		createdTs := conv.UpdatedAt.UnixMilli()
		for position, msg := range conv.Messages {
			if _, err := insert.ExecContext(ctx,
				MessageKey(conv.ID, position), conv.ID, position, string(msg.Role), msg.Content, createdTs,
			); err != nil {
				return fmt.Errorf("failed to insert message %d: %w", position, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	conv.Title = title
	return nil
}

func (b *SQLBackend) Clear(ctx context.Context, ownerID string) error {
	p := b.db.Placeholder
	return b.deleteWhere(ctx, `user_id = `+p(1), ownerID)
}

func (b *SQLBackend) Delete(ctx context.Context, id, ownerID string) error {
	p := b.db.Placeholder
	return b.deleteWhere(ctx, `id = `+p(1)+` AND user_id = `+p(2), id, ownerID)
}

// deleteWhere removes matching conversations and their messages in one transaction.
func (b *SQLBackend) deleteWhere(ctx context.Context, where string, args ...any) error {
	tx, err := b.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE `+where+`)`, args...,
	); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE `+where, args...); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (b *SQLBackend) Publish(ctx context.Context, id, ownerID, sharePath string, now time.Time) (*Conversation, error) {
	p := b.db.Placeholder
	stmt := `UPDATE conversations SET share_path = ` + p(1) + `, updated_ts = ` + p(2) +
		` WHERE id = ` + p(3) + ` AND user_id = ` + p(4) +
		` RETURNING ` + conversationColumns

	conv, err := scanConversation(b.db.DB.QueryRowContext(ctx, stmt, sharePath, now.UnixMilli(), id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to publish conversation: %w", err)
	}
	return conv, nil
}
