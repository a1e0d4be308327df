package chat

import (
	"context"
	"time"
)

// EventKind discriminates inbound live events.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventTyping
	EventRead
)

// TypingEvent reports another participant starting or stopping typing.
type TypingEvent struct {
	Username string
	Typing   bool
}

// ReadEvent reports that a participant read a message. UserID is set for Direct rooms,
// Username for Group rooms.
type ReadEvent struct {
	MessageID int64
	UserID    int64
	Username  string
	ReadCount int
}

// Event is one inbound live event. Kind selects the populated field.
type Event struct {
	Kind    EventKind
	Message Message
	Typing  TypingEvent
	Read    ReadEvent
}

// Channel is an open live connection scoped to one room.
type Channel interface {
	// Events delivers inbound events and is closed when the channel ends.
	Events() <-chan Event
	// Send delivers a message and returns once the transport confirms it.
	Send(ctx context.Context, text string) error
	TypingStart() error
	TypingStop() error
	MarkRead(messageID int64) error
	Close() error
}

// Transport opens live channels.
type Transport interface {
	Open(ctx context.Context, room RoomRef, accessToken string) (Channel, error)
}

// History is the REST surface used to load a room and to send when the live channel is
// unavailable.
type History interface {
	Fetch(ctx context.Context, room RoomRef, size int) ([]Message, error)
	Post(ctx context.Context, room RoomRef, text string) error
}

// Archiver persists merged messages. Failures are logged and never affect the view.
type Archiver interface {
	Archive(ctx context.Context, msgs []Message) error
}

// ArchiveReader is implemented by archivers that can serve a room back while the server
// is unreachable.
type ArchiveReader interface {
	ListByRoom(ctx context.Context, room RoomRef, limit int) ([]Message, error)
}

// Identity exposes the signed-in user. *gateway.Gateway implements it.
type Identity interface {
	AccessToken() string
	Username() string
}

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
