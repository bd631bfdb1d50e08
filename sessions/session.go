package sessions

import (
	"sync"
	"time"

	"github.com/wirebind/sessiond/transport"
)

// State is a session's position in the lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
	StateClosed         State = "closed"
)

// Session is one tenant's live (or recently live) connection. All mutation
// goes through the Orchestrator; other packages only read.
type Session struct {
	tenantID  string
	createdAt time.Time

	mu     sync.Mutex
	state  State
	qr     string
	handle transport.Handle
}

func newSession(tenantID string) *Session {
	return &Session{
		tenantID:  tenantID,
		createdAt: time.Now().UTC(),
		state:     StateIdle,
	}
}

func (s *Session) TenantID() string { return s.tenantID }

// CreatedAt is set once at session creation and survives reconnects.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QR returns the latest pairing code, or "" when none is pending. The slot
// is a shared overwrite-on-write cell: every concurrent waiter observes the
// same value once issued.
func (s *Session) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) setQR(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qr = v
}

// markConnected transitions to Connected and clears the pairing slot; a code
// that already authenticated must not be shown to late waiters.
func (s *Session) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.qr = ""
}

func (s *Session) attach(h transport.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

func (s *Session) currentHandle() transport.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}
