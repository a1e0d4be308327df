package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func directMsg(id int64, user string, sec int) Message {
	return Message{
		Kind:        Direct,
		ID:          id,
		Room:        DirectRoom(1),
		Sender:      Sender{Username: user},
		ContentType: Text,
		Text:        "m",
		CreatedAt:   base.Add(time.Duration(sec) * time.Second),
		Direct:      &DirectFields{},
	}
}

type fakeChannel struct {
	events chan Event

	mu       sync.Mutex
	closed   bool
	sent     []string
	sendErr  error
	sendGate chan struct{}
	// echo, when set, turns a successful Send into an inbound message event.
	echo    func(text string) Message
	typing  []string
	reads   []int64
	readErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 64)}
}

func (c *fakeChannel) Events() <-chan Event { return c.events }

func (c *fakeChannel) push(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

func (c *fakeChannel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	gate := c.sendGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, text)
	err, echo := c.sendErr, c.echo
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if echo != nil {
		c.push(Event{Kind: EventMessage, Message: echo(text)})
	}
	return nil
}

func (c *fakeChannel) TypingStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, "start")
	return nil
}

func (c *fakeChannel) TypingStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, "stop")
	return nil
}

func (c *fakeChannel) MarkRead(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, id)
	return c.readErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) typingEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.typing...)
}

func (c *fakeChannel) readEvents() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.reads...)
}

type fakeTransport struct {
	mu      sync.Mutex
	opens   []RoomRef
	tokens  []string
	openErr error
	// setup, when set, configures each channel before it is returned.
	setup    func(*fakeChannel)
	channels chan *fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{channels: make(chan *fakeChannel, 16)}
}

func (t *fakeTransport) Open(_ context.Context, room RoomRef, token string) (Channel, error) {
	t.mu.Lock()
	t.opens = append(t.opens, room)
	t.tokens = append(t.tokens, token)
	err, setup := t.openErr, t.setup
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := newFakeChannel()
	if setup != nil {
		setup(ch)
	}
	t.channels <- ch
	return ch, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opens)
}

func (t *fakeTransport) next(tb testing.TB) *fakeChannel {
	tb.Helper()
	select {
	case ch := <-t.channels:
		return ch
	case <-time.After(2 * time.Second):
		tb.Fatal("no channel opened")
		return nil
	}
}

type fakeHistory struct {
	mu       sync.Mutex
	server   map[RoomRef][]Message
	fetches  int
	fetchErr error
	posts    []string
	postErr  error
	nextID   int64
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{server: map[RoomRef][]Message{}, nextID: 1000}
}

func (h *fakeHistory) Fetch(_ context.Context, room RoomRef, size int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	msgs := h.server[room]
	if len(msgs) > size {
		msgs = msgs[len(msgs)-size:]
	}
	return append([]Message(nil), msgs...), nil
}

func (h *fakeHistory) Post(_ context.Context, room RoomRef, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posts = append(h.posts, text)
	if h.postErr != nil {
		return h.postErr
	}
	h.nextID++
	m := directMsg(h.nextID, "me", 100+len(h.server[room]))
	m.Room, m.Text = room, text
	h.server[room] = append(h.server[room], m)
	return nil
}

func (h *fakeHistory) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches
}

func (h *fakeHistory) postCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.posts)
}

type fakeIdentity struct{ user string }

func (f fakeIdentity) AccessToken() string { return "token-" + f.user }
func (f fakeIdentity) Username() string    { return f.user }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// active returns the timers neither stopped nor fired.
func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// elapse fires every active timer, as if the full window passed.
func (c *fakeClock) elapse() {
	for _, t := range c.active() {
		c.mu.Lock()
		t.fired = true
		c.mu.Unlock()
		t.f()
	}
}

type fakeArchiver struct {
	mu   sync.Mutex
	ids  []int64
	fail bool
}

func (a *fakeArchiver) Archive(_ context.Context, msgs []Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("archive down")
	}
	for _, m := range msgs {
		a.ids = append(a.ids, m.ID)
	}
	return nil
}

func (a *fakeArchiver) archived() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.ids...)
}

// fakeArchiveReader is an archiver that also serves archived rooms back.
type fakeArchiveReader struct {
	fakeArchiver
	stored map[RoomRef][]Message
}

func (a *fakeArchiveReader) ListByRoom(_ context.Context, room RoomRef, limit int) ([]Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.stored[room]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
