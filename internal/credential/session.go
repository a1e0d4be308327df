// Package credential holds the client's Credential State and decodes credential claims.
package credential

import "sync"

// State is an immutable snapshot of the Credential State.
type State struct {
	AccessToken   string
	RefreshToken  string
	Authenticated bool
}

// Session is the single authoritative Credential State of one client session.
// It is passed explicitly to the components that need it; there is no package-level instance.
type Session struct {
	mu    sync.RWMutex
	state State
	// epoch increments on every Establish and Clear so callers can tell sessions apart.
	epoch uint64
}

// NewSession returns an empty, unauthenticated session.
func NewSession() *Session {
	return &Session{}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AccessToken returns the current access credential, or "".
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

// RefreshToken returns the current refresh credential, or "".
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RefreshToken
}

// Authenticated reports whether the session holds credentials.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Authenticated
}

// Current returns the state together with the session generation. The generation changes
// on Establish and Clear, never on rotation.
func (s *Session) Current() (State, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.epoch
}

// Establish sets fresh credentials after login or session verification.
func (s *Session) Establish(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{AccessToken: access, RefreshToken: refresh, Authenticated: true}
	s.epoch++
}

// RotateIf replaces the credential pair after a refresh, provided the session is still
// generation epoch. It reports false, leaving the state alone, when the session was
// cleared or re-established since epoch was read. An empty refresh keeps the previous
// refresh credential (servers that only rotate the access token).
func (s *Session) RotateIf(epoch uint64, access, refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || !s.state.Authenticated {
		return false
	}
	s.state.AccessToken = access
	if refresh != "" {
		s.state.RefreshToken = refresh
	}
	return true
}

// Clear drops all credentials (logout or irrecoverable refresh failure).
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	s.epoch++
}

// Username returns the username embedded in the access credential, or "" if unauthenticated
// or undecodable.
func (s *Session) Username() string {
	claims, err := DecodeClaims(s.AccessToken())
	if err != nil {
		return ""
	}
	return claims.Name()
}
