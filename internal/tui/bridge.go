package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// Routes reported to the gateway as the client's current location.
const (
	RouteRooms = "/chat"
	RouteRoom  = "/chat/room"
)

// ChangedMsg tells the model the synchronizer state moved.
type ChangedMsg struct{}

// RedirectMsg is delivered when the session expired and the client must leave the chat.
type RedirectMsg struct {
	Route string
}

// Bridge forwards callbacks raised on background goroutines into a running program.
// It implements gateway.Navigator.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
	route   string

	// pending coalesces change notifications until the model has drawn the last one.
	pending atomic.Bool
}

// NewBridge returns a Bridge starting at route.
func NewBridge(route string) *Bridge {
	return &Bridge{route: route}
}

// Attach sets the program that receives messages. Messages posted before Attach are dropped.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

// Changed is the synchronizer's change hook.
func (b *Bridge) Changed() {
	if !b.pending.CompareAndSwap(false, true) {
		return
	}
	if !b.post(ChangedMsg{}) {
		b.pending.Store(false)
	}
}

// settle re-arms Changed; the model calls it before reading a snapshot.
func (b *Bridge) settle() {
	b.pending.Store(false)
}

func (b *Bridge) CurrentRoute() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.route
}

func (b *Bridge) SetRoute(route string) {
	b.mu.Lock()
	b.route = route
	b.mu.Unlock()
}

func (b *Bridge) Redirect(route string) {
	b.SetRoute(route)
	b.post(RedirectMsg{Route: route})
}

// post hands msg to the program without blocking; Program.Send waits for the event
// loop, which may be the caller.
func (b *Bridge) post(msg tea.Msg) bool {
	b.mu.Lock()
	p := b.program
	b.mu.Unlock()
	if p == nil {
		return false
	}
	go p.Send(msg)
	return true
}
