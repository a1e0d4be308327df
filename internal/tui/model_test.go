package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"forum-client/internal/chat"
)

type fakeRoom struct {
	mu       sync.Mutex
	selected []chat.RoomRef
	inputs   []string
	sent     []string
	sendErr  error
	refreshs int
	snap     chat.Snapshot
}

func (f *fakeRoom) SelectRoom(_ context.Context, room chat.RoomRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, room)
	f.snap.Room = room
	return nil
}

func (f *fakeRoom) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	return nil
}

func (f *fakeRoom) SendMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeRoom) InputChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
}

func (f *fakeRoom) Snapshot() chat.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func keys(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

// run executes cmd and feeds every resulting message back into m.
func run(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			run(m, c)
		}
	case nil:
	default:
		_, next := m.Update(msg)
		_ = next
	}
}

func chatModel(t *testing.T) (*Model, *fakeRoom, *Bridge) {
	t.Helper()
	room := &fakeRoom{}
	bridge := NewBridge(RouteRooms)
	item := RoomItem{Ref: chat.DirectRoom(5), Name: "bob"}
	m := New(room, nil, bridge, "me", &item)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	run(m, m.selectRoom(item.Ref))
	m.route(RouteRoom)
	return m, room, bridge
}

func TestRoomItem_Title(t *testing.T) {
	if got := (RoomItem{Name: "bob"}).Title(); got != "bob" {
		t.Errorf("Title = %q", got)
	}
	if got := (RoomItem{Name: "bob", Unread: 3}).Title(); got != "bob (3)" {
		t.Errorf("Title = %q", got)
	}
}

func TestPicker_EnterOpensRoom(t *testing.T) {
	room := &fakeRoom{}
	bridge := NewBridge("")
	source := func(context.Context) ([]RoomItem, error) {
		return []RoomItem{
			{Ref: chat.DirectRoom(5), Name: "bob", Preview: "hey"},
			{Ref: chat.GroupRoom(2, 4), Name: "general"},
		}, nil
	}
	m := New(room, source, bridge, "me", nil)
	run(m, m.loadRooms())
	if bridge.CurrentRoute() != "" {
		t.Fatalf("route = %q before Init", bridge.CurrentRoute())
	}

	_, cmd := m.Update(enter)
	run(m, cmd)

	if m.screen != screenChat || m.current.Name != "bob" {
		t.Fatalf("screen = %v current = %+v", m.screen, m.current)
	}
	if len(room.selected) != 1 || room.selected[0] != chat.DirectRoom(5) {
		t.Errorf("selected = %v", room.selected)
	}
	if bridge.CurrentRoute() != RouteRoom {
		t.Errorf("route = %q, want %q", bridge.CurrentRoute(), RouteRoom)
	}
}

func TestPicker_LoadFailureShown(t *testing.T) {
	m := New(&fakeRoom{}, func(context.Context) ([]RoomItem, error) {
		return nil, errors.New("server unavailable")
	}, nil, "me", nil)
	run(m, m.loadRooms())
	if !strings.Contains(m.View(), "server unavailable") {
		t.Error("load error not rendered")
	}
}

func TestChat_TypingForwardsInput(t *testing.T) {
	m, room, _ := chatModel(t)

	m.Update(keys("h"))
	m.Update(keys("i"))
	m.Update(tea.KeyMsg{Type: tea.KeyBackspace})

	want := []string{"h", "hi", "h"}
	if len(room.inputs) != len(want) {
		t.Fatalf("inputs = %v, want %v", room.inputs, want)
	}
	for i := range want {
		if room.inputs[i] != want[i] {
			t.Fatalf("inputs = %v, want %v", room.inputs, want)
		}
	}
}

func TestChat_EnterSends(t *testing.T) {
	m, room, _ := chatModel(t)
	m.Update(keys("hello"))

	_, cmd := m.Update(enter)
	run(m, cmd)

	if len(room.sent) != 1 || room.sent[0] != "hello" {
		t.Fatalf("sent = %v", room.sent)
	}
	if m.input.Value() != "" {
		t.Errorf("input = %q after successful send", m.input.Value())
	}
}

func TestChat_SendFailureKeepsInput(t *testing.T) {
	m, room, _ := chatModel(t)
	room.sendErr = &chat.SendError{Err: errors.New("broker gone")}
	m.Update(keys("hello"))

	_, cmd := m.Update(enter)
	run(m, cmd)

	if m.input.Value() != "hello" {
		t.Errorf("input = %q, want compose kept", m.input.Value())
	}
	if !strings.Contains(m.View(), "Something went wrong") {
		t.Error("send error not rendered")
	}
}

func TestChat_EnterIgnoredWhileSending(t *testing.T) {
	m, room, _ := chatModel(t)
	room.snap.Send = chat.Sending
	m.Update(ChangedMsg{})

	if _, cmd := m.Update(enter); cmd != nil {
		t.Error("enter while sending produced a command")
	}
	if !strings.Contains(m.View(), "sending") {
		t.Error("sending state not rendered")
	}
}

func TestChat_RacingSendIsSilent(t *testing.T) {
	m, room, _ := chatModel(t)
	room.sendErr = chat.ErrSendInProgress
	m.Update(keys("hello"))

	_, cmd := m.Update(enter)
	run(m, cmd)

	if m.Err() != nil {
		t.Errorf("err = %v, want none for a send already in progress", m.Err())
	}
	if m.input.Value() != "hello" {
		t.Errorf("input = %q, want it left to the send in flight", m.input.Value())
	}
}

func TestChat_ArchivedCopyMarked(t *testing.T) {
	m, room, _ := chatModel(t)
	room.snap.Archived = true
	m.Update(ChangedMsg{})
	if !strings.Contains(m.View(), "offline copy") {
		t.Error("archived view not marked")
	}
}

func TestChat_RendersSnapshot(t *testing.T) {
	m, room, bridge := chatModel(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	room.snap = chat.Snapshot{
		Room: chat.DirectRoom(5),
		Conn: chat.Connected,
		Messages: []chat.Message{
			{Kind: chat.Direct, ID: 1, Sender: chat.Sender{Username: "bob", Nickname: "Bobby"}, Text: "hi there", CreatedAt: at, Direct: &chat.DirectFields{}},
			{Kind: chat.Direct, ID: 2, Sender: chat.Sender{Username: "me"}, Text: "hello", CreatedAt: at.Add(time.Second), Direct: &chat.DirectFields{Read: true}},
		},
		Typing: []string{"bob"},
	}
	bridge.pending.Store(true)

	m.Update(ChangedMsg{})

	if bridge.pending.Load() {
		t.Error("change notification not re-armed")
	}
	view := m.View()
	for _, want := range []string{"bob", "Bobby", "hi there", "hello", "✓", "bob is typing", chat.Connected.String()} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestChat_EscReturnsToRooms(t *testing.T) {
	m, room, bridge := chatModel(t)
	m.Update(keys("draft"))

	_, cmd := m.Update(esc)
	run(m, cmd)

	if m.screen != screenRooms {
		t.Fatal("still on the room view")
	}
	if last := room.selected[len(room.selected)-1]; !last.IsZero() {
		t.Errorf("last selection = %v, want none", last)
	}
	if m.input.Value() != "" {
		t.Error("draft kept after leaving the room")
	}
	if bridge.CurrentRoute() != RouteRooms {
		t.Errorf("route = %q", bridge.CurrentRoute())
	}
}

func TestChat_Refresh(t *testing.T) {
	m, room, _ := chatModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	run(m, cmd)
	if room.refreshs != 1 {
		t.Errorf("refreshes = %d, want 1", room.refreshs)
	}
}

func TestRedirect_Quits(t *testing.T) {
	m, _, _ := chatModel(t)
	_, cmd := m.Update(RedirectMsg{Route: "/"})
	if cmd == nil {
		t.Fatal("no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("redirect did not quit")
	}
	if !m.Expired() || m.Err() == nil {
		t.Error("expiry not recorded")
	}
}

func TestTypingLine(t *testing.T) {
	testCases := []struct {
		users []string
		want  string
	}{
		{nil, ""},
		{[]string{"bob"}, "bob is typing…"},
		{[]string{"ann", "bob"}, "ann and bob are typing…"},
		{[]string{"ann", "bob", "cid"}, "ann and 2 others are typing…"},
	}
	for _, tc := range testCases {
		if got := typingLine(tc.users); got != tc.want {
			t.Errorf("typingLine(%v) = %q, want %q", tc.users, got, tc.want)
		}
	}
}

func TestBridge_WithoutProgram(t *testing.T) {
	b := NewBridge(RouteRooms)
	b.Changed()
	if b.pending.Load() {
		t.Error("pending left set with no program attached")
	}
	b.Redirect("/")
	if b.CurrentRoute() != "/" {
		t.Errorf("route = %q", b.CurrentRoute())
	}
}
