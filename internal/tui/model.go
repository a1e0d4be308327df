// Package tui is the terminal chat client: a room picker and a live room view.
package tui

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"forum-client/internal/chat"
)

// Room is the slice of the chat synchronizer the view drives.
type Room interface {
	SelectRoom(ctx context.Context, room chat.RoomRef) error
	Refresh(ctx context.Context) error
	SendMessage(ctx context.Context, text string) error
	InputChanged(text string)
	Snapshot() chat.Snapshot
}

// RoomSource lists the rooms offered in the picker.
type RoomSource func(ctx context.Context) ([]RoomItem, error)

// RoomItem is one row of the picker.
type RoomItem struct {
	Ref     chat.RoomRef
	Name    string
	Preview string
	Unread  int
}

func (i RoomItem) Title() string {
	if i.Unread > 0 {
		return i.Name + " (" + strconv.Itoa(i.Unread) + ")"
	}
	return i.Name
}

func (i RoomItem) Description() string { return i.Preview }
func (i RoomItem) FilterValue() string { return i.Name }

type screen int

const (
	screenRooms screen = iota
	screenChat
)

const requestTimeout = 15 * time.Second

type roomsLoadedMsg struct {
	items []RoomItem
	err   error
}

type roomSelectedMsg struct {
	err error
}

type sentMsg struct {
	err error
}

type refreshedMsg struct {
	err error
}

// Model is the bubbletea model of the client.
type Model struct {
	room   Room
	rooms  RoomSource
	bridge *Bridge
	me     string

	screen   screen
	picker   list.Model
	current  RoomItem
	viewport viewport.Model
	input    textinput.Model
	snap     chat.Snapshot

	status  string
	err     error
	expired bool

	width, height int
}

// New returns a model for user me. When initial is set the room view opens on it directly.
func New(room Room, rooms RoomSource, bridge *Bridge, me string, initial *RoomItem) *Model {
	picker := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	picker.Title = "Chats"
	picker.SetShowHelp(true)

	ti := textinput.New()
	ti.Placeholder = "Write a message"
	ti.Prompt = "│ "
	ti.CharLimit = 2000
	ti.Width = 78

	m := &Model{
		room:     room,
		rooms:    rooms,
		bridge:   bridge,
		me:       me,
		picker:   picker,
		viewport: viewport.New(80, 20),
		input:    ti,
		width:    80,
		height:   24,
	}
	if initial != nil {
		m.current = *initial
		m.screen = screenChat
		m.input.Focus()
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, initialWindowSize}
	if m.screen == screenChat {
		m.route(RouteRoom)
		cmds = append(cmds, m.selectRoom(m.current.Ref))
	} else {
		m.route(RouteRooms)
		cmds = append(cmds, m.loadRooms())
	}
	return tea.Batch(cmds...)
}

func initialWindowSize() tea.Msg {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return nil
	}
	return tea.WindowSizeMsg{Width: w, Height: h}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)
		return m, nil

	case ChangedMsg:
		if m.bridge != nil {
			m.bridge.settle()
		}
		m.syncSnapshot()
		return m, nil

	case RedirectMsg:
		m.expired = true
		m.err = errors.New("session expired, please sign in again")
		return m, tea.Quit

	case roomsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(msg.items))
		for i, it := range msg.items {
			items[i] = it
		}
		return m, m.picker.SetItems(items)

	case roomSelectedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.syncSnapshot()
		return m, nil

	case refreshedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = "refreshed"
		}
		m.syncSnapshot()
		return m, nil

	case sentMsg:
		switch {
		case errors.Is(msg.err, chat.ErrSendInProgress):
			// A second enter raced the first send; that send owns the outcome.
		case msg.err != nil:
			// The compose text stays in the input for another try.
			m.err = msg.err
		default:
			m.err = nil
			m.input.Reset()
		}
		m.syncSnapshot()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.screen == screenRooms {
			return m.updateRooms(msg)
		}
		return m.updateChat(msg)
	}

	if m.screen == screenRooms {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updateRooms(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picker.FilterState() != list.Filtering {
		switch msg.String() {
		case "enter":
			item, ok := m.picker.SelectedItem().(RoomItem)
			if !ok {
				return m, nil
			}
			return m, m.open(item)
		case "r":
			return m, m.loadRooms()
		}
	}
	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	return m, cmd
}

func (m *Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenRooms
		m.current = RoomItem{}
		m.err = nil
		m.input.Reset()
		m.input.Blur()
		m.route(RouteRooms)
		return m, tea.Batch(m.selectRoom(chat.RoomRef{}), m.loadRooms())

	case "enter":
		if m.snap.Send == chat.Sending {
			return m, nil
		}
		text := m.input.Value()
		room := m.room
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return sentMsg{err: room.SendMessage(ctx, text)}
		}

	case "ctrl+r":
		room := m.room
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return refreshedMsg{err: room.Refresh(ctx)}
		}

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.room.InputChanged(after)
	}
	return m, cmd
}

func (m *Model) open(item RoomItem) tea.Cmd {
	m.screen = screenChat
	m.current = item
	m.err = nil
	m.status = ""
	m.input.Focus()
	m.route(RouteRoom)
	return m.selectRoom(item.Ref)
}

func (m *Model) selectRoom(ref chat.RoomRef) tea.Cmd {
	room := m.room
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return roomSelectedMsg{err: room.SelectRoom(ctx, ref)}
	}
}

func (m *Model) loadRooms() tea.Cmd {
	if m.rooms == nil {
		return nil
	}
	rooms := m.rooms
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		items, err := rooms(ctx)
		return roomsLoadedMsg{items: items, err: err}
	}
}

func (m *Model) route(r string) {
	if m.bridge != nil {
		m.bridge.SetRoute(r)
	}
}

// syncSnapshot pulls the synchronizer state into the view, following the bottom of the
// conversation when the user was already there.
func (m *Model) syncSnapshot() {
	m.snap = m.room.Snapshot()
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(renderMessages(m.snap.Messages, m.me, m.viewport.Width))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) applyWindowSize(w, h int) {
	m.width, m.height = w, h
	m.picker.SetSize(w, h-2)
	m.input.Width = w - 4
	// header, typing line, input and footer
	vh := h - 5
	if vh < 3 {
		vh = 3
	}
	m.viewport.Width = w
	m.viewport.Height = vh
	m.viewport.SetContent(renderMessages(m.snap.Messages, m.me, w))
}

// Expired reports whether the program ended because the session expired.
func (m *Model) Expired() bool { return m.expired }

// Err returns the last error shown to the user.
func (m *Model) Err() error { return m.err }
