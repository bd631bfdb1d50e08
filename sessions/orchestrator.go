package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wirebind/sessiond/credstore"
	"github.com/wirebind/sessiond/status"
	"github.com/wirebind/sessiond/transport"
)

// Forwarder hands inbound messages downstream. Implementations absorb their
// own delivery failures; the orchestrator fires and forgets.
type Forwarder interface {
	Forward(ctx context.Context, tenantID string, raw transport.RawMessage)
}

// statusConnected is the value written to the durable clients record while a
// tenant's session is up.
const statusConnected = "connected"

// Config tunes the orchestrator. Zero values get conservative defaults.
type Config struct {
	// ReconnectDelay is the fixed wait between a transient disconnect and
	// the next attempt. There is deliberately no backoff growth and no
	// attempt cap: sessions retry until they succeed or are logged out.
	ReconnectDelay time.Duration

	// QRPollInterval and QRMaxPolls bound AwaitQR. Worst case wait is
	// QRPollInterval * QRMaxPolls (~30s at defaults).
	QRPollInterval time.Duration
	QRMaxPolls     int

	// Logger receives lifecycle logs. If not provided, logs are discarded.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.QRPollInterval == 0 {
		c.QRPollInterval = 100 * time.Millisecond
	}
	if c.QRMaxPolls == 0 {
		c.QRMaxPolls = 300
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Deps are the orchestrator's collaborators. Registry may be nil, in which
// case a fresh one is created; everything else is required.
type Deps struct {
	Registry  *Registry
	Transport transport.Transport
	Forwarder Forwarder
	Status    status.Store
	Creds     credstore.Store
}

// Orchestrator owns every session state transition. It is safe for
// concurrent use.
type Orchestrator struct {
	cfg    Config
	reg    *Registry
	tr     transport.Transport
	fwd    Forwarder
	status status.Store
	creds  credstore.Store
	log    *slog.Logger

	// mu serializes lifecycle bookkeeping: the check-then-act sequences in
	// Establish, Terminate, close handling and reconnect timers.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if deps.Forwarder == nil {
		return nil, fmt.Errorf("forwarder is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if deps.Creds == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	cfg.applyDefaults()
	reg := deps.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		reg:    reg,
		tr:     deps.Transport,
		fwd:    deps.Forwarder,
		status: deps.Status,
		creds:  deps.Creds,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Close stops reconnect scheduling and detaches event processing from
// long-lived background work. Live transport handles are not logged out;
// use Terminate per tenant for that.
func (o *Orchestrator) Close() {
	o.cancel()
}

// EstablishResult reports the outcome of an establishment request. When
// AlreadyConnected is false, the caller follows up with AwaitQR.
type EstablishResult struct {
	TenantID         string
	AlreadyConnected bool
}

// Establish creates or revives the tenant's session. It is idempotent: a
// tenant already Connected gets an immediate AlreadyConnected result, and a
// tenant mid-authentication shares the in-flight attempt — in both cases no
// second transport session is opened.
func (o *Orchestrator) Establish(ctx context.Context, tenantID string) (*EstablishResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	o.mu.Lock()
	s, existed := o.reg.Get(tenantID)
	if existed {
		switch s.State() {
		case StateConnected:
			o.mu.Unlock()
			return &EstablishResult{TenantID: tenantID, AlreadyConnected: true}, nil
		case StateAuthenticating:
			o.mu.Unlock()
			return &EstablishResult{TenantID: tenantID}, nil
		}
	} else {
		s = newSession(tenantID)
		o.reg.Set(tenantID, s)
	}
	s.setState(StateAuthenticating)
	o.mu.Unlock()

	prior, err := o.creds.Load(ctx, tenantID)
	if err != nil {
		o.log.Warn("loading prior credentials failed, pairing fresh",
			"tenant_id", tenantID, "err", err)
		prior = nil
	}

	h, err := o.tr.Open(ctx, tenantID, prior)
	if err != nil {
		o.mu.Lock()
		if existed {
			// Revived entry: park it in Reconnecting and let the retry
			// loop keep working on it.
			s.setState(StateReconnecting)
			o.mu.Unlock()
			o.scheduleReconnect(tenantID)
		} else {
			o.reg.DeleteIf(tenantID, s)
			o.mu.Unlock()
		}
		return nil, fmt.Errorf("open transport session for %s: %w", tenantID, err)
	}

	s.attach(h)
	o.mu.Lock()
	if cur, ok := o.reg.Get(tenantID); !ok || cur != s {
		// Terminated while the transport was dialing. Don't resurrect the
		// entry; release the connection the way the terminate asked for.
		o.mu.Unlock()
		if err := h.Logout(ctx); err != nil {
			o.log.Warn("transport logout command failed", "tenant_id", tenantID, "err", err)
		}
		return nil, fmt.Errorf("session for %s terminated during establishment", tenantID)
	}
	o.mu.Unlock()

	go o.consume(s, h)
	o.log.Info("session establishment started", "tenant_id", tenantID, "resumed", prior != nil)
	return &EstablishResult{TenantID: tenantID}, nil
}

// Terminate logs the tenant out and forgets the session. The transport
// command's outcome is ignored: once the entry is gone, termination
// succeeded. Terminating an unknown tenant is a no-op success.
func (o *Orchestrator) Terminate(ctx context.Context, tenantID string) error {
	o.mu.Lock()
	s, ok := o.reg.Get(tenantID)
	if ok {
		s.setState(StateClosed)
		o.reg.Delete(tenantID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if h := s.currentHandle(); h != nil {
		if err := h.Logout(ctx); err != nil {
			o.log.Warn("transport logout command failed", "tenant_id", tenantID, "err", err)
		}
	}
	o.clearDurable(tenantID)
	o.log.Info("session terminated", "tenant_id", tenantID)
	return nil
}

// StatusInfo is the client-facing view of one tenant's session.
type StatusInfo struct {
	Exists    bool
	Connected bool
	QRPending bool
	CreatedAt time.Time
}

// Status reports the tenant's current session state. A tenant mid-reconnect
// still Exists with Connected false; an absent tenant reports the zero value.
func (o *Orchestrator) Status(tenantID string) StatusInfo {
	s, ok := o.reg.Get(tenantID)
	if !ok {
		return StatusInfo{}
	}
	return StatusInfo{
		Exists:    true,
		Connected: s.State() == StateConnected,
		QRPending: s.QR() != "",
		CreatedAt: s.CreatedAt(),
	}
}

// ActiveSessions counts registry entries, including ones mid-reconnect.
func (o *Orchestrator) ActiveSessions() int {
	return o.reg.Len()
}

// consume is the single per-session event loop. It returns when the stream
// ends; per-tenant ordering follows channel order.
func (o *Orchestrator) consume(s *Session, h transport.Handle) {
	tenantID := s.TenantID()
	for ev := range h.Events() {
		switch ev := ev.(type) {
		case transport.QR:
			s.setQR(ev.Value)
			o.log.Debug("pairing code issued", "tenant_id", tenantID)

		case transport.CredsChanged:
			if err := o.creds.Save(o.ctx, tenantID, ev.State); err != nil {
				o.log.Warn("persisting credential state failed", "tenant_id", tenantID, "err", err)
			}

		case transport.Opened:
			s.markConnected()
			o.log.Info("session connected", "tenant_id", tenantID)
			if err := o.status.SetStatus(o.ctx, tenantID, statusConnected, time.Now().UTC()); err != nil {
				o.log.Warn("durable status write failed", "tenant_id", tenantID, "err", err)
			}

		case transport.Message:
			if ev.Raw.FromSelf {
				continue
			}
			o.fwd.Forward(o.ctx, tenantID, ev.Raw)

		case transport.Closed:
			o.handleClose(s, h, ev)
			return
		}
	}
	// Stream ended without a close event: treat it as a transient drop.
	o.handleClose(s, h, transport.Closed{})
}

func (o *Orchestrator) handleClose(s *Session, h transport.Handle, ev transport.Closed) {
	tenantID := s.TenantID()

	o.mu.Lock()
	cur, ok := o.reg.Get(tenantID)
	if !ok || cur != s || s.currentHandle() != h {
		// Terminated or superseded while the close was in flight; a stale
		// close must not touch the current session.
		o.mu.Unlock()
		return
	}
	if ev.Terminal {
		s.setState(StateClosed)
		o.reg.Delete(tenantID)
		o.mu.Unlock()
		o.log.Info("session closed permanently", "tenant_id", tenantID, "code", ev.Code)
		o.clearDurable(tenantID)
		return
	}
	s.setState(StateReconnecting)
	o.mu.Unlock()

	o.log.Warn("session dropped, reconnect scheduled",
		"tenant_id", tenantID, "code", ev.Code, "delay", o.cfg.ReconnectDelay)
	o.scheduleReconnect(tenantID)
}

// scheduleReconnect re-establishes the tenant after the fixed delay. The
// callback re-checks registry membership and state so a tenant terminated
// during the delay window is never resurrected.
func (o *Orchestrator) scheduleReconnect(tenantID string) {
	time.AfterFunc(o.cfg.ReconnectDelay, func() {
		if o.ctx.Err() != nil {
			return
		}
		o.mu.Lock()
		s, ok := o.reg.Get(tenantID)
		if !ok || s.State() != StateReconnecting {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		if _, err := o.Establish(o.ctx, tenantID); err != nil {
			// Establish parked the entry back in Reconnecting and already
			// scheduled the next attempt.
			o.log.Warn("reconnect attempt failed", "tenant_id", tenantID, "err", err)
		}
	})
}

// clearDurable removes the tenant's external record and stored pairing.
// Both are best-effort; failures are logged, never escalated.
func (o *Orchestrator) clearDurable(tenantID string) {
	if err := o.status.ClearStatus(o.ctx, tenantID); err != nil {
		o.log.Warn("durable status clear failed", "tenant_id", tenantID, "err", err)
	}
	if err := o.creds.Delete(o.ctx, tenantID); err != nil {
		o.log.Warn("credential delete failed", "tenant_id", tenantID, "err", err)
	}
}
