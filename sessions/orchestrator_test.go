package sessions_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wirebind/sessiond/credstore"
	"github.com/wirebind/sessiond/forward"
	"github.com/wirebind/sessiond/sessions"
	"github.com/wirebind/sessiond/status"
	statusmem "github.com/wirebind/sessiond/status/memory"
	"github.com/wirebind/sessiond/transport"
	"github.com/wirebind/sessiond/transport/transporttest"
)

// testConfig keeps lifecycle timing short enough for tests while preserving
// the real ordering guarantees.
func testConfig() sessions.Config {
	return sessions.Config{
		ReconnectDelay: 20 * time.Millisecond,
		QRPollInterval: 5 * time.Millisecond,
		QRMaxPolls:     60,
	}
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []struct {
		tenantID string
		raw      transport.RawMessage
	}
}

func (f *fakeForwarder) Forward(ctx context.Context, tenantID string, raw transport.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		tenantID string
		raw      transport.RawMessage
	}{tenantID, raw})
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	orch  *sessions.Orchestrator
	tr    *transporttest.Fake
	fwd   *fakeForwarder
	stat  *statusmem.Store
	creds *credstore.Memory
}

func newFixture(t *testing.T, cfg sessions.Config) *fixture {
	t.Helper()
	f := &fixture{
		tr:    transporttest.New(),
		fwd:   &fakeForwarder{},
		stat:  statusmem.New(),
		creds: credstore.NewMemory(),
	}
	orch, err := sessions.New(sessions.Deps{
		Transport: f.tr,
		Forwarder: f.fwd,
		Status:    f.stat,
		Creds:     f.creds,
	}, cfg)
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(orch.Close)
	f.orch = orch
	return f
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func connect(t *testing.T, f *fixture, tenantID string) *transporttest.Handle {
	t.Helper()
	if _, err := f.orch.Establish(t.Context(), tenantID); err != nil {
		t.Fatalf("Establish(%q): %v", tenantID, err)
	}
	h := f.tr.WaitForOpen(t, tenantID, 1)
	h.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return f.orch.Status(tenantID).Connected
	}, "session never reached Connected")
	return h
}

func TestEstablishIdempotentDuringAuthentication(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Establish(t.Context(), "t1"); err != nil {
				t.Errorf("Establish: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.tr.OpenCount("t1"); got != 1 {
		t.Fatalf("transport opened %d times, want exactly 1", got)
	}
}

func TestEstablishOnConnectedTenantDoesNotReopen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	connect(t, f, "t1")

	res, err := f.orch.Establish(t.Context(), "t1")
	if err != nil {
		t.Fatalf("second Establish: %v", err)
	}
	if !res.AlreadyConnected {
		t.Fatal("expected AlreadyConnected result")
	}
	if got := f.tr.OpenCount("t1"); got != 1 {
		t.Fatalf("transport opened %d times, want 1", got)
	}
}

func TestTerminalCloseRemovesSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := connect(t, f, "t1")

	h.EmitClosed(401, true)

	waitUntil(t, 2*time.Second, func() bool {
		return !f.orch.Status("t1").Exists
	}, "terminal close did not remove the session")

	if st := f.orch.Status("t1"); st.Connected {
		t.Fatal("removed session reports connected")
	}
	waitUntil(t, 2*time.Second, func() bool {
		rec, err := f.stat.GetStatus(t.Context(), "t1")
		return err == nil && rec == nil
	}, "durable status not cleared after terminal close")
	if f.tr.OpenCount("t1") != 1 {
		t.Fatal("terminal close must not trigger a reconnect")
	}
}

func TestTransientCloseReconnectsAfterDelay(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	f := newFixture(t, cfg)
	h := connect(t, f, "t1")

	before := time.Now()
	h.EmitClosed(428, false)

	// During the delay window the entry survives with connected=false.
	waitUntil(t, 2*time.Second, func() bool {
		st := f.orch.Status("t1")
		return st.Exists && !st.Connected
	}, "session vanished during reconnect window")

	h2 := f.tr.WaitForOpen(t, "t1", 2)
	if elapsed := time.Since(before); elapsed < cfg.ReconnectDelay {
		t.Fatalf("reconnect after %v, want at least the %v delay", elapsed, cfg.ReconnectDelay)
	}

	h2.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return f.orch.Status("t1").Connected
	}, "session never reconnected")
}

func TestReconnectionIsNotAbandoned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := connect(t, f, "t1")
	h.EmitClosed(428, false)

	// Fail several consecutive attempts; the retry loop must keep going.
	for attempt := 2; attempt <= 5; attempt++ {
		hn := f.tr.WaitForOpen(t, "t1", attempt)
		hn.EmitClosed(428, false)
	}
	f.tr.WaitForOpen(t, "t1", 6)
}

func TestTerminateDuringReconnectWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ReconnectDelay = 60 * time.Millisecond
	f := newFixture(t, cfg)
	h := connect(t, f, "t1")

	h.EmitClosed(428, false)
	waitUntil(t, 2*time.Second, func() bool {
		st := f.orch.Status("t1")
		return st.Exists && !st.Connected
	}, "transient close not observed")

	if err := f.orch.Terminate(t.Context(), "t1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	time.Sleep(3 * cfg.ReconnectDelay)
	if got := f.tr.OpenCount("t1"); got != 1 {
		t.Fatalf("reconnect timer resurrected a terminated session (%d opens)", got)
	}
	if f.orch.Status("t1").Exists {
		t.Fatal("terminated session still present")
	}
}

func TestTerminateUnknownTenantIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	if err := f.orch.Terminate(t.Context(), "ghost"); err != nil {
		t.Fatalf("Terminate on unknown tenant: %v", err)
	}
}

func TestTerminateSucceedsWhenLogoutFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := connect(t, f, "t1")
	h.LogoutErr = errors.New("transport unreachable")

	if err := f.orch.Terminate(t.Context(), "t1"); err != nil {
		t.Fatalf("Terminate must succeed once the entry is removed: %v", err)
	}
	if !h.LoggedOut() {
		t.Fatal("logout command was not issued")
	}
	if f.orch.Status("t1").Exists {
		t.Fatal("session still present after terminate")
	}
}

func TestSelfAuthoredMessagesAreDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := connect(t, f, "t1")

	h.Emit(transport.Message{Raw: transport.RawMessage{ID: "m1", FromSelf: true}})
	h.Emit(transport.Message{Raw: transport.RawMessage{ID: "m2", Sender: "491700000001@s.whatsapp.net"}})

	waitUntil(t, 2*time.Second, func() bool { return f.fwd.count() == 1 }, "inbound message never forwarded")
	time.Sleep(20 * time.Millisecond)
	if got := f.fwd.count(); got != 1 {
		t.Fatalf("forwarded %d messages, want 1 (self-authored dropped)", got)
	}
}

func TestCredentialStatePersistedAndReused(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	h := connect(t, f, "t1")

	blob := []byte(`{"noise-key":"abc"}`)
	h.Emit(transport.CredsChanged{State: blob})
	waitUntil(t, 2*time.Second, func() bool {
		b, err := f.creds.Load(t.Context(), "t1")
		return err == nil && string(b) == string(blob)
	}, "credential state never persisted")

	h.EmitClosed(428, false)
	f.tr.WaitForOpen(t, "t1", 2)
	if got := f.tr.LastPriorCreds("t1"); string(got) != string(blob) {
		t.Fatalf("reconnect opened with creds %q, want persisted state", got)
	}
}

// failingStatus always errors; the state machine must shrug it off.
type failingStatus struct{}

func (failingStatus) SetStatus(ctx context.Context, tenantID, value string, updatedAt time.Time) error {
	return errors.New("status backend down")
}
func (failingStatus) GetStatus(ctx context.Context, tenantID string) (*status.Record, error) {
	return nil, errors.New("status backend down")
}
func (failingStatus) ClearStatus(ctx context.Context, tenantID string) error {
	return errors.New("status backend down")
}

func TestDurableStoreFailureDoesNotCorruptState(t *testing.T) {
	t.Parallel()
	tr := transporttest.New()
	orch, err := sessions.New(sessions.Deps{
		Transport: tr,
		Forwarder: &fakeForwarder{},
		Status:    failingStatus{},
		Creds:     credstore.NewMemory(),
	}, testConfig())
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(orch.Close)

	if _, err := orch.Establish(t.Context(), "t1"); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	h := tr.WaitForOpen(t, "t1", 1)
	h.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return orch.Status("t1").Connected
	}, "session never connected despite best-effort status store")

	h.EmitClosed(428, false)
	h2 := tr.WaitForOpen(t, "t1", 2)
	h2.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return orch.Status("t1").Connected
	}, "reconnect broken by failing status store")
}

func TestForwarderFailureIsolatedFromSessions(t *testing.T) {
	t.Parallel()
	tr := transporttest.New()
	// Real forwarder with a downstream that always fails.
	fwd, err := forward.New(forward.EndpointFunc(func(ctx context.Context, tenantID string, msg forward.InboundMessage) error {
		return errors.New("downstream 503")
	}))
	if err != nil {
		t.Fatalf("forward.New: %v", err)
	}
	orch, err := sessions.New(sessions.Deps{
		Transport: tr,
		Forwarder: fwd,
		Status:    statusmem.New(),
		Creds:     credstore.NewMemory(),
	}, testConfig())
	if err != nil {
		t.Fatalf("sessions.New: %v", err)
	}
	t.Cleanup(orch.Close)

	for _, tenant := range []string{"a", "b"} {
		if _, err := orch.Establish(t.Context(), tenant); err != nil {
			t.Fatalf("Establish(%q): %v", tenant, err)
		}
		h := tr.WaitForOpen(t, tenant, 1)
		h.Emit(transport.Opened{})
	}
	waitUntil(t, 2*time.Second, func() bool {
		return orch.Status("a").Connected && orch.Status("b").Connected
	}, "sessions never connected")

	ha := tr.Handle("a")
	for i := 0; i < 5; i++ {
		ha.Emit(transport.Message{Raw: transport.RawMessage{
			ID:      fmt.Sprintf("m%d", i),
			Sender:  "491700000001@s.whatsapp.net",
			Content: map[string]any{"conversation": "hello"},
		}})
	}

	time.Sleep(50 * time.Millisecond)
	if !orch.Status("a").Connected {
		t.Fatal("delivery failures altered tenant a's session state")
	}
	if !orch.Status("b").Connected {
		t.Fatal("delivery failures for tenant a affected tenant b")
	}
}

// The documented end-to-end walk: pair, connect, transient drop, recover.
func TestSessionLifecycleScenario(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	f := newFixture(t, cfg)

	if _, err := f.orch.Establish(t.Context(), "t1"); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	h := f.tr.WaitForOpen(t, "t1", 1)
	h.Emit(transport.QR{Value: "QR123"})

	start := time.Now()
	res, err := f.orch.AwaitQR(t.Context(), "t1")
	if err != nil {
		t.Fatalf("AwaitQR: %v", err)
	}
	if res.QR != "QR123" {
		t.Fatalf("qr = %q, want QR123", res.QR)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("qr took %v to surface, want <200ms", elapsed)
	}

	h.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return f.orch.Status("t1").Connected
	}, "status never reported connected")

	h.EmitClosed(428, false)
	waitUntil(t, 2*time.Second, func() bool {
		st := f.orch.Status("t1")
		return st.Exists && !st.Connected
	}, "session absent during reconnect window")

	h2 := f.tr.WaitForOpen(t, "t1", 2)
	h2.Emit(transport.Opened{})
	waitUntil(t, 2*time.Second, func() bool {
		return f.orch.Status("t1").Connected
	}, "session never recovered")

	if f.orch.ActiveSessions() != 1 {
		t.Fatalf("active sessions = %d, want 1", f.orch.ActiveSessions())
	}
}
