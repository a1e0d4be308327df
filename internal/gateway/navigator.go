package gateway

import "sync"

// Navigator moves the client to a route. The terminal client uses it to drop back to
// the login prompt; tests record calls.
type Navigator interface {
	CurrentRoute() string
	Redirect(route string)
}

// redirectLatch fires the landing redirect at most once per session.
type redirectLatch struct {
	mu      sync.Mutex
	nav     Navigator
	landing string
	fired   bool
}

func (l *redirectLatch) fire() {
	if l.nav == nil {
		return
	}
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return
	}
	l.fired = true
	l.mu.Unlock()
	if l.nav.CurrentRoute() == l.landing {
		return
	}
	l.nav.Redirect(l.landing)
}

// rearm allows the next session expiry to redirect again.
func (l *redirectLatch) rearm() {
	l.mu.Lock()
	l.fired = false
	l.mu.Unlock()
}
