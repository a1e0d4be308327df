// Package archive persists chat messages seen by the client to Postgres or SQLite.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	"forum-client/internal/chat"
	"forum-client/internal/db"
	"forum-client/internal/db/migrate"
)

// Repository defines persistence for archived chat messages.
type Repository interface {
	Save(ctx context.Context, m chat.Message) error
	ListByRoom(ctx context.Context, room chat.RoomRef, limit int) ([]chat.Message, error)
}

// SQLRepository is a Repository over database/sql. It also implements chat.Archiver.
type SQLRepository struct {
	db      *sql.DB
	queries *Queries
}

// NewSQLRepository returns a repository using conn, whose schema must be migrated.
func NewSQLRepository(conn *sql.DB) *SQLRepository {
	return &SQLRepository{db: conn, queries: NewQueries(conn)}
}

// Open migrates the database named by dsn to the latest version and opens it.
func Open(dsn string) (*SQLRepository, error) {
	if err := migrate.Run(dsn, "up"); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	conn, _, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return NewSQLRepository(conn), nil
}

// Close closes the underlying database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Save upserts m. A stored read flag is never cleared.
func (r *SQLRepository) Save(ctx context.Context, m chat.Message) error {
	return r.queries.UpsertChatMessage(ctx, toRow(m))
}

// Archive saves msgs in one transaction.
func (r *SQLRepository) Archive(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := r.queries.WithTx(tx)
	for _, m := range msgs {
		if err := q.UpsertChatMessage(ctx, toRow(m)); err != nil {
			return fmt.Errorf("archive message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListByRoom returns the newest limit messages of room, oldest first.
func (r *SQLRepository) ListByRoom(ctx context.Context, room chat.RoomRef, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = chat.DefaultPageSize
	}
	rows, err := r.queries.ListChatMessagesByRoom(ctx, ListChatMessagesByRoomParams{
		RoomKind: room.Kind.String(),
		GroupID:  room.GroupID,
		RoomID:   room.RoomID,
		Limit:    int32(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = fromRow(&rows[i])
	}
	return out, nil
}

func toRow(m chat.Message) ChatMessage {
	row := ChatMessage{
		RoomKind:       m.Room.Kind.String(),
		GroupID:        m.Room.GroupID,
		RoomID:         m.Room.RoomID,
		MessageID:      m.ID,
		SenderUsername: m.Sender.Username,
		SenderNickname: m.Sender.Nickname,
		ContentType:    string(m.ContentType),
		Body:           m.Text,
		IsRead:         m.IsRead(),
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if m.Attachment != nil {
		row.AttachmentURL = m.Attachment.URL
		row.AttachmentName = m.Attachment.Name
		row.AttachmentSize = m.Attachment.Size
	}
	if m.Group != nil {
		row.ReplyTo = m.Group.ReplyTo
		row.SenderIsAdmin = m.Group.SenderIsAdmin
	}
	return row
}

func fromRow(row *ChatMessage) chat.Message {
	m := chat.Message{
		ID:          row.MessageID,
		Sender:      chat.Sender{Username: row.SenderUsername, Nickname: row.SenderNickname},
		ContentType: chat.ContentType(row.ContentType),
		Text:        row.Body,
		CreatedAt:   row.CreatedAt,
	}
	if row.AttachmentURL != "" {
		m.Attachment = &chat.Attachment{URL: row.AttachmentURL, Name: row.AttachmentName, Size: row.AttachmentSize}
	}
	switch row.RoomKind {
	case chat.Group.String():
		m.Kind = chat.Group
		m.Room = chat.GroupRoom(row.GroupID, row.RoomID)
		m.Group = &chat.GroupFields{ReplyTo: row.ReplyTo, SenderIsAdmin: row.SenderIsAdmin}
	default:
		m.Kind = chat.Direct
		m.Room = chat.DirectRoom(row.RoomID)
		m.Direct = &chat.DirectFields{Read: row.IsRead}
	}
	return m
}
