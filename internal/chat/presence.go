package chat

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingWindow is how long a typing-start keeps a user marked as typing.
const DefaultTypingWindow = 3 * time.Second

// Presence is the set of users typing in a room, each with an expiry. Expired entries
// are dropped lazily on read.
type Presence struct {
	mu     sync.Mutex
	until  map[string]time.Time
	window time.Duration
	nowF   func() time.Time
}

// NewPresence returns an empty set whose entries live for window.
func NewPresence(window time.Duration) *Presence {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Presence{
		until:  make(map[string]time.Time),
		window: window,
		nowF:   time.Now,
	}
}

// Set marks username typing (refreshing its expiry) or clears it.
func (p *Presence) Set(username string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if typing {
		p.until[username] = p.nowF().Add(p.window)
		return
	}
	delete(p.until, username)
}

// Typing returns the sorted usernames whose entries have not expired.
func (p *Presence) Typing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.nowF()
	out := make([]string, 0, len(p.until))
	for u, exp := range p.until {
		if !exp.After(now) {
			delete(p.until, u)
			continue
		}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Reset clears every entry.
func (p *Presence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until = make(map[string]time.Time)
}
