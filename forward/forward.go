// Package forward normalizes inbound transport messages into the canonical
// gateway shape and delivers them to the downstream processing endpoint.
// Delivery is at-most-once and best-effort: a downstream failure is logged
// and absorbed here so it can never disturb the owning session.
package forward

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wirebind/sessiond/transport"
)

// defaultDedupeSize bounds the per-forwarder cache of recently seen message
// IDs. Providers occasionally replay a message after a reconnect; the cache
// keeps those replays from reaching the downstream twice.
const defaultDedupeSize = 4096

// Endpoint receives normalized messages. Implementations must be safe for
// concurrent use; the forwarder calls Deliver from many session goroutines.
type Endpoint interface {
	Deliver(ctx context.Context, tenantID string, msg InboundMessage) error
}

// EndpointFunc adapts a function to the Endpoint interface.
type EndpointFunc func(ctx context.Context, tenantID string, msg InboundMessage) error

func (f EndpointFunc) Deliver(ctx context.Context, tenantID string, msg InboundMessage) error {
	return f(ctx, tenantID, msg)
}

// Forwarder hands normalized messages to a downstream Endpoint.
type Forwarder struct {
	endpoint Endpoint
	log      *slog.Logger
	seen     *lru.Cache[string, struct{}]
}

// Option configures a Forwarder.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	dedupeSize int
}

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithDedupeSize overrides the bound on the replay-suppression cache.
func WithDedupeSize(n int) Option {
	return func(c *config) { c.dedupeSize = n }
}

// New constructs a Forwarder delivering to endpoint.
func New(endpoint Endpoint, opts ...Option) (*Forwarder, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("endpoint is required")
	}
	cfg := &config{
		logger:     slog.New(slog.DiscardHandler),
		dedupeSize: defaultDedupeSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	seen, err := lru.New[string, struct{}](cfg.dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Forwarder{endpoint: endpoint, log: cfg.logger, seen: seen}, nil
}

// Forward normalizes raw and delivers it downstream. Failures are logged and
// absorbed; callers get no signal because there is nothing for them to do —
// the gateway does not retry and message loss here is accepted behavior.
func (f *Forwarder) Forward(ctx context.Context, tenantID string, raw transport.RawMessage) {
	if raw.ID != "" {
		key := tenantID + "|" + raw.ID
		if _, dup := f.seen.Get(key); dup {
			f.log.Debug("dropping replayed message", "tenant_id", tenantID, "message_id", raw.ID)
			return
		}
		f.seen.Add(key, struct{}{})
	}

	msg := Normalize(raw)
	if err := f.endpoint.Deliver(ctx, tenantID, msg); err != nil {
		f.log.Warn("downstream delivery failed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"err", err,
		)
	}
}
