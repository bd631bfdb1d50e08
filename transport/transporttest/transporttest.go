// Package transporttest provides a scripted in-memory Transport for tests.
// Tests drive the session lifecycle by emitting events on the handles the
// fake hands out, and assert on how many times a tenant's session was opened.
package transporttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wirebind/sessiond/transport"
)

// Fake implements transport.Transport. Each Open call produces a fresh
// Handle whose event stream the test controls via Emit and Close.
type Fake struct {
	mu      sync.Mutex
	opens   map[string]int
	handles map[string][]*Handle
	creds   map[string][]byte // last priorCreds seen per tenant

	// OpenErr, when set, is returned by every subsequent Open call.
	OpenErr error
}

func New() *Fake {
	return &Fake{
		opens:   make(map[string]int),
		handles: make(map[string][]*Handle),
		creds:   make(map[string][]byte),
	}
}

func (f *Fake) Open(ctx context.Context, tenantID string, priorCreds []byte) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	h := &Handle{tenantID: tenantID, events: make(chan transport.Event, 32)}
	f.opens[tenantID]++
	f.handles[tenantID] = append(f.handles[tenantID], h)
	f.creds[tenantID] = priorCreds
	return h, nil
}

// OpenCount reports how many transport sessions were opened for the tenant.
func (f *Fake) OpenCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[tenantID]
}

// LastPriorCreds returns the priorCreds argument of the most recent Open.
func (f *Fake) LastPriorCreds(tenantID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[tenantID]
}

// Handle returns the most recently opened handle for the tenant, or nil.
func (f *Fake) Handle(tenantID string) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handles[tenantID]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// WaitForOpen polls until at least n Open calls happened for the tenant and
// returns the latest handle. It fails the test after the deadline.
func (f *Fake) WaitForOpen(t *testing.T, tenantID string, n int) *Handle {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.OpenCount(tenantID) >= n {
			return f.Handle(tenantID)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("transport open %d for %q never happened (saw %d)", n, tenantID, f.OpenCount(tenantID))
	return nil
}

// Handle is a scripted transport session.
type Handle struct {
	tenantID string
	events   chan transport.Event

	mu        sync.Mutex
	closed    bool
	loggedOut bool

	// LogoutErr, when set, is returned by Logout. The gateway must treat a
	// failed logout command as success once the entry is removed.
	LogoutErr error
}

func (h *Handle) Events() <-chan transport.Event { return h.events }

func (h *Handle) Logout(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return h.LogoutErr
}

// LoggedOut reports whether Logout was invoked on this handle.
func (h *Handle) LoggedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggedOut
}

// Emit queues an event on the handle's stream.
func (h *Handle) Emit(ev transport.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events <- ev
}

// Close ends the event stream without a Closed event, simulating a transport
// that died mid-flight.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.events)
}

// EmitClosed emits a Closed event and then ends the stream, the shape a real
// transport produces on disconnect.
func (h *Handle) EmitClosed(code int, terminal bool) {
	h.Emit(transport.Closed{Code: code, Terminal: terminal})
	h.Close()
}
