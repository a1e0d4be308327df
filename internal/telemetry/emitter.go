// Package telemetry defines the client's session and chat events and how they are emitted.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	EventSessionEstablished = "session_established"
	EventSessionExpired     = "session_expired"
	EventChatConnected      = "chat_connected"
	EventChatDisconnected   = "chat_disconnected"
	EventMessageSent        = "message_sent"
	EventSendFailed         = "message_send_failed"
)

// Event is one client-side occurrence worth shipping to the collector. The JSON form is
// what the Kafka and Loki sinks publish.
type Event struct {
	Type     string `json:"eventType"`
	Username string `json:"username,omitempty"`
	// Room is the chat room reference ("direct/5", "group/2/4"); empty for session events.
	Room string `json:"room,omitempty"`
	// Path is how a message left the client: "live" or "rest".
	Path      string    `json:"path,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi returns an emitter that sends each event to every non-nil emitter and joins their errors.
func Multi(emitters ...EventEmitter) EventEmitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
