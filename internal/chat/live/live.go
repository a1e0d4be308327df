// Package live implements the chat Transport over STOMP on WebSocket.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"forum-client/internal/api"
	"forum-client/internal/chat"
	"forum-client/internal/stomp"
)

const jsonContent = "application/json"

// Options configures a Transport.
type Options struct {
	// SendTimeout bounds a receipted send. Zero means the caller's context alone.
	SendTimeout time.Duration
	// FireAndForget treats a written SEND frame as delivered instead of waiting for a
	// RECEIPT, for brokers that never issue one.
	FireAndForget bool
	Dialer        *websocket.Dialer
	Logger        *zap.Logger
}

// Transport dials one STOMP session per opened room.
type Transport struct {
	url  string
	opts Options
	log  *zap.Logger
}

// New returns a Transport for the STOMP endpoint at url (ws:// or wss://).
func New(url string, opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{url: url, opts: opts, log: log.Named("live")}
}

// Open connects with the bearer token and subscribes to room's message and typing topics.
func (t *Transport) Open(ctx context.Context, room chat.RoomRef, accessToken string) (chat.Channel, error) {
	if room.IsZero() {
		return nil, chat.ErrNoRoom
	}
	hdr := map[string]string{}
	if accessToken != "" {
		hdr["Authorization"] = "Bearer " + accessToken
	}
	conn, err := stomp.Dial(ctx, t.url, stomp.DialOptions{Header: hdr, Dialer: t.opts.Dialer, Logger: t.log})
	if err != nil {
		return nil, err
	}
	msgs, err := conn.Subscribe(room.Topic())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("live: subscribe %s: %w", room.Topic(), err)
	}
	typing, err := conn.Subscribe(room.TypingTopic())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("live: subscribe %s: %w", room.TypingTopic(), err)
	}

	c := &channel{
		conn:   conn,
		room:   room,
		opts:   t.opts,
		log:    t.log.With(zap.Stringer("room", room)),
		events: make(chan chat.Event, 64),
		quit:   make(chan struct{}),
	}
	go c.pump(msgs, typing)
	return c, nil
}

type channel struct {
	conn   *stomp.Conn
	room   chat.RoomRef
	opts   Options
	log    *zap.Logger
	events chan chat.Event

	quit      chan struct{}
	closeOnce sync.Once
}

func (c *channel) Events() <-chan chat.Event { return c.events }

func (c *channel) Send(ctx context.Context, text string) error {
	var payload any
	switch c.room.Kind {
	case chat.Direct:
		payload = directSend{Type: "MESSAGE", ChatRoomID: c.room.RoomID, Message: text, MessageType: string(chat.Text)}
	case chat.Group:
		payload = groupSend{Message: text}
	default:
		return chat.ErrNoRoom
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if c.opts.FireAndForget {
		return c.conn.Publish(c.room.SendDestination(), jsonContent, body)
	}
	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}
	return c.conn.Send(ctx, c.room.SendDestination(), jsonContent, body)
}

func (c *channel) TypingStart() error {
	return c.conn.Publish(c.room.TypingStartDestination(), "", nil)
}

func (c *channel) TypingStop() error {
	return c.conn.Publish(c.room.TypingStopDestination(), "", nil)
}

func (c *channel) MarkRead(messageID int64) error {
	body, err := json.Marshal(readRequest{MessageID: messageID})
	if err != nil {
		return err
	}
	return c.conn.Publish(c.room.ReadDestination(), jsonContent, body)
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	return c.conn.Close()
}

// pump decodes subscription frames into events until either subscription ends, then
// closes the events channel.
func (c *channel) pump(msgs, typing *stomp.Subscription) {
	defer close(c.events)
	for {
		var (
			ev chat.Event
			ok bool
		)
		select {
		case f, open := <-msgs.C:
			if !open {
				return
			}
			ev, ok = c.decodeRoomFrame(f.Body)
		case f, open := <-typing.C:
			if !open {
				return
			}
			ev, ok = c.decodeTypingFrame(f.Body)
		case <-c.quit:
			return
		}
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.quit:
			return
		}
	}
}

func (c *channel) decodeRoomFrame(body []byte) (chat.Event, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		c.log.Warn("dropping undecodable frame", zap.Error(err))
		return chat.Event{}, false
	}

	switch head.Type {
	case "READ":
		var r readBroadcast
		if err := json.Unmarshal(body, &r); err != nil {
			c.log.Warn("dropping undecodable read event", zap.Error(err))
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventRead, Read: chat.ReadEvent{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Username:  r.Username,
			ReadCount: r.ReadCount,
		}}, true
	case "", "MESSAGE":
	default:
		c.log.Debug("ignoring room event", zap.String("type", head.Type))
		return chat.Event{}, false
	}

	switch c.room.Kind {
	case chat.Direct:
		var d api.DirectMessage
		if err := json.Unmarshal(body, &d); err != nil {
			c.log.Warn("dropping undecodable message", zap.Error(err))
			return chat.Event{}, false
		}
		m := chat.FromDirect(d)
		m.Room = c.room
		return chat.Event{Kind: chat.EventMessage, Message: m}, true
	case chat.Group:
		var g api.GroupMessage
		if err := json.Unmarshal(body, &g); err != nil {
			c.log.Warn("dropping undecodable message", zap.Error(err))
			return chat.Event{}, false
		}
		return chat.Event{Kind: chat.EventMessage, Message: chat.FromGroup(c.room, g)}, true
	default:
		return chat.Event{}, false
	}
}

func (c *channel) decodeTypingFrame(body []byte) (chat.Event, bool) {
	var t typingBroadcast
	if err := json.Unmarshal(body, &t); err != nil || t.Username == "" {
		c.log.Debug("dropping typing frame", zap.ByteString("body", body), zap.Error(err))
		return chat.Event{}, false
	}
	return chat.Event{Kind: chat.EventTyping, Typing: chat.TypingEvent{Username: t.Username, Typing: t.IsTyping}}, true
}

type directSend struct {
	Type        string `json:"type"`
	ChatRoomID  int64  `json:"chatRoomId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

type groupSend struct {
	Message          string `json:"message"`
	ReplyToMessageID *int64 `json:"replyToMessageId,omitempty"`
}

type readRequest struct {
	MessageID int64 `json:"messageId"`
}

type readBroadcast struct {
	MessageID  int64  `json:"messageId"`
	ChatRoomID int64  `json:"chatRoomId"`
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	ReadCount  int    `json:"readCount"`
}

type typingBroadcast struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}
