package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrQRTimeout is returned when no pairing code appears within the
// configured polling window. The wait is never silently retried; the caller
// must issue a fresh Establish.
var ErrQRTimeout = errors.New("timed out waiting for pairing code")

// QRResult is the outcome of an AwaitQR call. Exactly one of QR and
// AlreadyConnected is meaningful.
type QRResult struct {
	QR               string
	AlreadyConnected bool
}

// AwaitQR polls the tenant's pairing slot until a code appears, the session
// turns out to be Connected, the polling window runs out, or ctx ends. The
// poll decouples the event-driven session setup from request/response
// callers: the orchestrator never blocks on caller presence, and every
// concurrent waiter for a tenant observes the same code once issued.
func (o *Orchestrator) AwaitQR(ctx context.Context, tenantID string) (QRResult, error) {
	ticker := time.NewTicker(o.cfg.QRPollInterval)
	defer ticker.Stop()

	for poll := 0; poll < o.cfg.QRMaxPolls; poll++ {
		if s, ok := o.reg.Get(tenantID); ok {
			if s.State() == StateConnected {
				return QRResult{AlreadyConnected: true}, nil
			}
			if qr := s.QR(); qr != "" {
				return QRResult{QR: qr}, nil
			}
		}
		select {
		case <-ctx.Done():
			return QRResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
	return QRResult{}, ErrQRTimeout
}
