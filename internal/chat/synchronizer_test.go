package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"forum-client/internal/gateway"
)

type syncFixture struct {
	sync      *Synchronizer
	transport *fakeTransport
	history   *fakeHistory
	clock     *fakeClock
	archiver  *fakeArchiver
}

func newSyncFixture(t *testing.T, mutate func(*Options)) *syncFixture {
	t.Helper()
	f := &syncFixture{
		transport: newFakeTransport(),
		history:   newFakeHistory(),
		clock:     &fakeClock{},
		archiver:  &fakeArchiver{},
	}
	opts := Options{
		Transport:      f.transport,
		History:        f.history,
		Identity:       fakeIdentity{user: "me"},
		Archiver:       f.archiver,
		ReconnectDelay: time.Millisecond,
		ReconnectMax:   5 * time.Millisecond,
		AfterFunc:      f.clock.AfterFunc,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sync = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

// connect selects room, enables the live channel and returns it once Connected.
func (f *syncFixture) connect(t *testing.T, room RoomRef) *fakeChannel {
	t.Helper()
	f.sync.SetConditions(true, true)
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	ch := f.transport.next(t)
	waitFor(t, "connected", func() bool { return f.sync.Snapshot().Conn == Connected })
	return ch
}

func ids(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func countText(msgs []Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Text == text {
			n++
		}
	}
	return n
}

func TestSynchronizer_EnablingConditions(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)

	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	if got := f.sync.Snapshot().Conn; got != Disconnected {
		t.Fatalf("Conn before enabling = %v, want disconnected", got)
	}
	f.sync.SetConditions(true, false)
	if f.transport.openCount() != 0 {
		t.Fatal("opened a channel while the view is inactive")
	}

	f.sync.SetConditions(true, true)
	ch := f.transport.next(t)
	waitFor(t, "connected", func() bool { return f.sync.Snapshot().Conn == Connected })
	if f.transport.tokens[0] != "token-me" {
		t.Errorf("token = %q", f.transport.tokens[0])
	}

	f.sync.SetConditions(false, true)
	if got := f.sync.Snapshot().Conn; got != Disconnected {
		t.Errorf("Conn after logout = %v, want disconnected", got)
	}
	waitFor(t, "channel closed", ch.isClosed)
}

func TestSynchronizer_InboundMergeDeduplicatesAndOrders(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1), directMsg(2, "me", 2)}
	ch := f.connect(t, room)

	ch.push(Event{Kind: EventMessage, Message: directMsg(4, "bob", 4)})
	ch.push(Event{Kind: EventMessage, Message: directMsg(3, "bob", 3)})
	ch.push(Event{Kind: EventMessage, Message: directMsg(2, "me", 2)})
	ch.push(Event{Kind: EventMessage, Message: directMsg(4, "bob", 4)})

	waitFor(t, "merge", func() bool { return len(f.sync.Snapshot().Messages) == 4 })
	// Let any straggling duplicate apply before asserting.
	time.Sleep(20 * time.Millisecond)
	got := ids(f.sync.Snapshot().Messages)
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
	waitFor(t, "archive", func() bool { return len(f.archiver.archived()) == 4 })
}

func TestSynchronizer_TypingTimerReset(t *testing.T) {
	f := newSyncFixture(t, nil)
	ch := f.connect(t, DirectRoom(1))

	f.sync.InputChanged("h")
	f.sync.InputChanged("he")
	if got := ch.typingEvents(); len(got) != 2 || got[0] != "start" || got[1] != "start" {
		t.Fatalf("typing = %v, want [start start]", got)
	}
	active := f.clock.active()
	if len(active) != 1 {
		t.Fatalf("%d idle timers armed, want 1", len(active))
	}
	if active[0].d != DefaultTypingWindow {
		t.Errorf("idle window = %v, want %v", active[0].d, DefaultTypingWindow)
	}

	f.clock.elapse()
	if got := ch.typingEvents(); len(got) != 3 || got[2] != "stop" {
		t.Fatalf("typing after silence = %v, want a trailing stop", got)
	}

	// Already stopped by the timer; clearing the input owes nothing.
	f.sync.InputChanged("")
	if got := ch.typingEvents(); len(got) != 3 {
		t.Errorf("typing = %v, want no extra stop", got)
	}
}

func TestSynchronizer_TypingStopsWhenInputCleared(t *testing.T) {
	f := newSyncFixture(t, nil)
	ch := f.connect(t, DirectRoom(1))

	f.sync.InputChanged("hi")
	f.sync.InputChanged("  ")
	if got := ch.typingEvents(); len(got) != 2 || got[1] != "stop" {
		t.Fatalf("typing = %v, want [start stop]", got)
	}
	if n := len(f.clock.active()); n != 0 {
		t.Errorf("%d idle timers still armed", n)
	}
	if f.sync.Compose() != "  " {
		t.Errorf("Compose = %q", f.sync.Compose())
	}
}

func TestSynchronizer_TypingNotSentWhileDisconnected(t *testing.T) {
	f := newSyncFixture(t, nil)
	if err := f.sync.SelectRoom(context.Background(), DirectRoom(1)); err != nil {
		t.Fatal(err)
	}
	f.sync.InputChanged("hi")
	if n := len(f.clock.active()); n != 0 {
		t.Errorf("armed %d timers without a channel", n)
	}
	if f.sync.Compose() != "hi" {
		t.Errorf("Compose = %q", f.sync.Compose())
	}
}

func TestSynchronizer_InboundTyping(t *testing.T) {
	f := newSyncFixture(t, nil)
	ch := f.connect(t, GroupRoom(2, 4))

	ch.push(Event{Kind: EventTyping, Typing: TypingEvent{Username: "me", Typing: true}})
	ch.push(Event{Kind: EventTyping, Typing: TypingEvent{Username: "bob", Typing: true}})
	waitFor(t, "bob typing", func() bool {
		got := f.sync.Snapshot().Typing
		return len(got) == 1 && got[0] == "bob"
	})
	ch.push(Event{Kind: EventTyping, Typing: TypingEvent{Username: "bob", Typing: false}})
	waitFor(t, "bob stopped", func() bool { return len(f.sync.Snapshot().Typing) == 0 })
}

func TestSynchronizer_ReadReceiptSentOnce(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1), directMsg(2, "bob", 2)}
	ch := f.connect(t, room)

	waitFor(t, "read receipt", func() bool { return len(ch.readEvents()) == 1 })
	if got := ch.readEvents(); got[0] != 2 {
		t.Fatalf("read = %v, want only the last message", got)
	}

	if err := f.sync.MarkRead(2); err != nil {
		t.Errorf("MarkRead again: %v", err)
	}
	if err := f.sync.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	ch.push(Event{Kind: EventMessage, Message: directMsg(2, "bob", 2)})
	time.Sleep(20 * time.Millisecond)
	if got := ch.readEvents(); len(got) != 1 {
		t.Errorf("read = %v, want a single receipt", got)
	}

	ch.push(Event{Kind: EventMessage, Message: directMsg(3, "me", 3)})
	ch.push(Event{Kind: EventRead, Read: ReadEvent{MessageID: 2, UserID: 7, ReadCount: 1}})
	waitFor(t, "read flag", func() bool {
		for _, m := range f.sync.Snapshot().Messages {
			if m.ID == 2 {
				return m.IsRead()
			}
		}
		return false
	})
	if got := ch.readEvents(); len(got) != 1 {
		t.Errorf("read = %v after own message, want no new receipt", got)
	}
}

func TestSynchronizer_ReadReceiptRetriedAfterFailure(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.transport.setup = func(c *fakeChannel) { c.readErr = errors.New("broken pipe") }
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1)}
	ch := f.connect(t, room)

	waitFor(t, "first receipt", func() bool { return len(ch.readEvents()) >= 1 })
	ch.mu.Lock()
	ch.readErr = nil
	ch.mu.Unlock()
	waitFor(t, "retried receipt", func() bool {
		_ = f.sync.MarkRead(1)
		return len(ch.readEvents()) >= 2
	})
	n := len(ch.readEvents())
	if err := f.sync.MarkRead(1); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := ch.readEvents(); len(got) != n {
		t.Errorf("read = %v, want no receipt after a successful one", got)
	}
}

func TestSynchronizer_NoReadReceiptsInGroupRooms(t *testing.T) {
	var (
		mu    sync.Mutex
		reads []ReadEvent
	)
	f := newSyncFixture(t, func(o *Options) {
		o.OnRead = func(_ RoomRef, ev ReadEvent) {
			mu.Lock()
			reads = append(reads, ev)
			mu.Unlock()
		}
	})
	room := GroupRoom(2, 4)
	bobs := Message{Kind: Group, ID: 1, Room: room, Sender: Sender{Username: "bob"}, CreatedAt: base, Group: &GroupFields{}}
	f.history.server[room] = []Message{bobs}
	ch := f.connect(t, room)

	ch.push(Event{Kind: EventRead, Read: ReadEvent{MessageID: 1, Username: "bob", ReadCount: 3}})
	waitFor(t, "read callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reads) == 1
	})
	if err := f.sync.MarkRead(1); err != nil {
		t.Fatal(err)
	}
	if got := ch.readEvents(); len(got) != 0 {
		t.Errorf("group read receipts sent: %v", got)
	}
	if reads[0].ReadCount != 3 {
		t.Errorf("ReadCount = %d", reads[0].ReadCount)
	}
}

func TestSynchronizer_SendLive(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	f.transport.setup = func(c *fakeChannel) {
		c.echo = func(text string) Message {
			m := directMsg(50, "me", 50)
			m.Text = text
			return m
		}
	}
	ch := f.connect(t, room)
	fetches := f.history.fetchCount()

	f.sync.InputChanged("hello")
	if err := f.sync.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	snap := f.sync.Snapshot()
	if snap.Compose != "" {
		t.Errorf("Compose = %q, want cleared", snap.Compose)
	}
	if snap.Send != SendIdle {
		t.Errorf("Send = %v, want idle", snap.Send)
	}
	waitFor(t, "echo", func() bool { return countText(f.sync.Snapshot().Messages, "hello") == 1 })
	if f.history.postCount() != 0 {
		t.Errorf("REST posts = %d, want 0", f.history.postCount())
	}
	if f.history.fetchCount() != fetches {
		t.Errorf("re-fetched after a live send")
	}
	if got := ch.typingEvents(); got[len(got)-1] != "stop" {
		t.Errorf("typing = %v, want a stop after sending", got)
	}
	if n := len(f.clock.active()); n != 0 {
		t.Errorf("%d idle timers armed after send", n)
	}
}

func TestSynchronizer_SendFallsBackToREST(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1)}
	f.transport.setup = func(c *fakeChannel) { c.sendErr = errors.New("receipt timeout") }
	ch := f.connect(t, room)
	fetches := f.history.fetchCount()

	f.sync.InputChanged("hello")
	if err := f.sync.SendMessage(context.Background(), " hello "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Errorf("live attempts = %d, want 1", len(ch.sent))
	}
	if f.history.postCount() != 1 || f.history.posts[0] != "hello" {
		t.Fatalf("posts = %v, want [hello]", f.history.posts)
	}
	if f.history.fetchCount() != fetches+1 {
		t.Errorf("fetches = %d, want a re-fetch", f.history.fetchCount()-fetches)
	}
	snap := f.sync.Snapshot()
	if n := countText(snap.Messages, "hello"); n != 1 {
		t.Errorf("hello appears %d times, want 1", n)
	}
	if snap.Compose != "" {
		t.Errorf("Compose = %q, want cleared", snap.Compose)
	}
}

func TestSynchronizer_SendWithoutChannelUsesREST(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := GroupRoom(2, 4)
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}
	if err := f.sync.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if f.history.postCount() != 1 {
		t.Errorf("posts = %d, want 1", f.history.postCount())
	}
}

func TestSynchronizer_SendFailureKeepsCompose(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	f.history.postErr = &gateway.HTTPError{
		Status: http.StatusNotFound,
		Body:   []byte(`{"success":false,"message":"chat room not found"}`),
	}
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}
	f.sync.InputChanged("hello")

	err := f.sync.SendMessage(context.Background(), "hello")
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SendError", err)
	}
	if err.Error() != "chat room not found" {
		t.Errorf("message = %q", err.Error())
	}
	if f.sync.Compose() != "hello" {
		t.Errorf("Compose = %q, want kept", f.sync.Compose())
	}
	if f.sync.Snapshot().Send != SendIdle {
		t.Error("send state not reset")
	}
}

func TestSynchronizer_SendInProgress(t *testing.T) {
	f := newSyncFixture(t, nil)
	gate := make(chan struct{})
	f.transport.setup = func(c *fakeChannel) { c.sendGate = gate }
	f.connect(t, DirectRoom(1))

	done := make(chan error, 1)
	go func() { done <- f.sync.SendMessage(context.Background(), "first") }()
	waitFor(t, "sending", func() bool { return f.sync.Snapshot().Send == Sending })

	if err := f.sync.SendMessage(context.Background(), "second"); !errors.Is(err, ErrSendInProgress) {
		t.Errorf("second send err = %v, want ErrSendInProgress", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if f.history.postCount() != 0 {
		t.Errorf("second send reached REST")
	}
}

func TestSynchronizer_SendBlankIsNoop(t *testing.T) {
	f := newSyncFixture(t, nil)
	if err := f.sync.SendMessage(context.Background(), " \t\n"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.sync.SendMessage(context.Background(), "x"); !errors.Is(err, ErrNoRoom) {
		t.Errorf("send without room err = %v, want ErrNoRoom", err)
	}
}

func TestSynchronizer_ReconnectsAfterDrop(t *testing.T) {
	f := newSyncFixture(t, nil)
	room := DirectRoom(1)
	first := f.connect(t, room)
	fetches := f.history.fetchCount()

	f.history.mu.Lock()
	f.history.server[room] = []Message{directMsg(7, "me", 7)}
	f.history.mu.Unlock()
	_ = first.Close()

	second := f.transport.next(t)
	waitFor(t, "reconnected", func() bool { return f.sync.Snapshot().Conn == Connected })
	waitFor(t, "catch-up fetch", func() bool { return f.history.fetchCount() > fetches })
	waitFor(t, "catch-up merge", func() bool {
		msgs := f.sync.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].ID == 7
	})

	second.push(Event{Kind: EventMessage, Message: directMsg(8, "bob", 8)})
	waitFor(t, "live after reconnect", func() bool { return len(f.sync.Snapshot().Messages) == 2 })
}

func TestSynchronizer_RetriesFailedOpen(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.transport.openErr = errors.New("connection refused")
	f.sync.SetConditions(true, true)
	if err := f.sync.SelectRoom(context.Background(), DirectRoom(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retries", func() bool { return f.transport.openCount() >= 3 })

	f.transport.mu.Lock()
	f.transport.openErr = nil
	f.transport.mu.Unlock()
	f.transport.next(t)
	waitFor(t, "connected", func() bool { return f.sync.Snapshot().Conn == Connected })
}

func TestSynchronizer_RoomSwitchDropsStaleState(t *testing.T) {
	f := newSyncFixture(t, nil)
	one, two := DirectRoom(1), DirectRoom(2)
	f.history.server[one] = []Message{directMsg(1, "bob", 1)}
	old := f.connect(t, one)

	f.sync.InputChanged("draft")
	if err := f.sync.SelectRoom(context.Background(), two); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "old channel closed", old.isClosed)
	if n := len(f.clock.active()); n != 0 {
		t.Errorf("%d typing timers survived the switch", n)
	}
	f.clock.elapse()
	if got := old.typingEvents(); len(got) != 1 {
		t.Errorf("typing on old room = %v, want only the start", got)
	}

	f.transport.next(t)
	waitFor(t, "connected to room 2", func() bool { return f.sync.Snapshot().Conn == Connected })
	snap := f.sync.Snapshot()
	if snap.Room != two || len(snap.Messages) != 0 || snap.Compose != "" {
		t.Errorf("snapshot after switch = %+v", snap)
	}
}

func TestSynchronizer_RefreshFailureKeepsList(t *testing.T) {
	f := newSyncFixture(t, func(o *Options) { o.Archiver = nil })
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1), directMsg(2, "bob", 2)}
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}

	f.history.fetchErr = errors.New("503")
	if err := f.sync.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded, want error")
	}
	if n := len(f.sync.Snapshot().Messages); n != 2 {
		t.Errorf("messages = %d after failed refresh, want 2", n)
	}
}

func TestSynchronizer_FailedLoadShowsArchive(t *testing.T) {
	room := DirectRoom(1)
	reader := &fakeArchiveReader{stored: map[RoomRef][]Message{
		room: {directMsg(1, "bob", 1), directMsg(2, "bob", 2)},
	}}
	f := newSyncFixture(t, func(o *Options) { o.Archiver = reader })
	f.history.fetchErr = errors.New("503")

	if err := f.sync.SelectRoom(context.Background(), room); err == nil {
		t.Fatal("SelectRoom succeeded, want the fetch error")
	}
	snap := f.sync.Snapshot()
	if !snap.Archived || len(snap.Messages) != 2 {
		t.Fatalf("snapshot = %+v, want the archived copy", snap)
	}

	f.history.fetchErr = nil
	f.history.server[room] = []Message{directMsg(3, "bob", 3)}
	if err := f.sync.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap = f.sync.Snapshot()
	if snap.Archived {
		t.Error("still marked archived after a successful load")
	}
	if got := ids(snap.Messages); len(got) != 1 || got[0] != 3 {
		t.Errorf("messages = %v, want [3]", got)
	}
}

func TestSynchronizer_ArchiveNotUsedOverLoadedList(t *testing.T) {
	room := DirectRoom(1)
	reader := &fakeArchiveReader{stored: map[RoomRef][]Message{room: {directMsg(9, "bob", 9)}}}
	f := newSyncFixture(t, func(o *Options) { o.Archiver = reader })
	f.history.server[room] = []Message{directMsg(1, "bob", 1)}
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}

	f.history.fetchErr = errors.New("503")
	_ = f.sync.Refresh(context.Background())
	snap := f.sync.Snapshot()
	if snap.Archived || len(snap.Messages) != 1 || snap.Messages[0].ID != 1 {
		t.Errorf("snapshot = %+v, want the loaded list kept", snap)
	}
}

func TestSynchronizer_ArchiverFailureIsIgnored(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.archiver.fail = true
	room := DirectRoom(1)
	f.history.server[room] = []Message{directMsg(1, "bob", 1)}
	if err := f.sync.SelectRoom(context.Background(), room); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	if n := len(f.sync.Snapshot().Messages); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestSynchronizer_Close(t *testing.T) {
	f := newSyncFixture(t, nil)
	ch := f.connect(t, DirectRoom(1))
	if err := f.sync.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ch.isClosed() {
		t.Error("channel left open")
	}
	if err := f.sync.SelectRoom(context.Background(), DirectRoom(2)); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectRoom after Close err = %v", err)
	}
	if err := f.sync.SendMessage(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendMessage after Close err = %v", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("New(Options{}) err = %v", err)
	}
}
