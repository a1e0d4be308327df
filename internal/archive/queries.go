package archive

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// Queries holds the archive's SQL. Placeholders are $N, which both pgx and SQLite accept.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// ChatMessage is one row of chat_messages.
type ChatMessage struct {
	RoomKind       string
	GroupID        int64
	RoomID         int64
	MessageID      int64
	SenderUsername string
	SenderNickname string
	ContentType    string
	Body           string
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	IsRead         bool
	ReplyTo        int64
	SenderIsAdmin  bool
	CreatedAt      time.Time
}

// The read flag only ever moves from false to true.
const upsertChatMessage = `
INSERT INTO chat_messages (
    room_kind, group_id, room_id, message_id, sender_username, sender_nickname,
    content_type, body, attachment_url, attachment_name, attachment_size,
    is_read, reply_to, sender_is_admin, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (room_kind, group_id, room_id, message_id)
DO UPDATE SET is_read = chat_messages.is_read OR excluded.is_read
`

func (q *Queries) UpsertChatMessage(ctx context.Context, m ChatMessage) error {
	_, err := q.db.ExecContext(ctx, upsertChatMessage,
		m.RoomKind, m.GroupID, m.RoomID, m.MessageID, m.SenderUsername, m.SenderNickname,
		m.ContentType, m.Body, m.AttachmentURL, m.AttachmentName, m.AttachmentSize,
		m.IsRead, m.ReplyTo, m.SenderIsAdmin, m.CreatedAt,
	)
	return err
}

// Newest first; callers reverse.
const listChatMessagesByRoom = `
SELECT room_kind, group_id, room_id, message_id, sender_username, sender_nickname,
       content_type, body, attachment_url, attachment_name, attachment_size,
       is_read, reply_to, sender_is_admin, created_at
FROM chat_messages
WHERE room_kind = $1 AND group_id = $2 AND room_id = $3
ORDER BY created_at DESC, message_id DESC
LIMIT $4
`

type ListChatMessagesByRoomParams struct {
	RoomKind string
	GroupID  int64
	RoomID   int64
	Limit    int32
}

func (q *Queries) ListChatMessagesByRoom(ctx context.Context, arg ListChatMessagesByRoomParams) ([]ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx, listChatMessagesByRoom, arg.RoomKind, arg.GroupID, arg.RoomID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChatMessage
	for rows.Next() {
		var i ChatMessage
		if err := rows.Scan(
			&i.RoomKind, &i.GroupID, &i.RoomID, &i.MessageID, &i.SenderUsername, &i.SenderNickname,
			&i.ContentType, &i.Body, &i.AttachmentURL, &i.AttachmentName, &i.AttachmentSize,
			&i.IsRead, &i.ReplyTo, &i.SenderIsAdmin, &i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
