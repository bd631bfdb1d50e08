package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPEndpoint posts normalized messages to a downstream URL as JSON.
type HTTPEndpoint struct {
	url    string
	client *http.Client
}

// HTTPOption configures an HTTPEndpoint.
type HTTPOption func(*HTTPEndpoint)

// WithHTTPClient overrides the default client (10s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEndpoint) { e.client = c }
}

// NewHTTPEndpoint constructs an endpoint posting to url.
func NewHTTPEndpoint(url string, opts ...HTTPOption) (*HTTPEndpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("downstream url is required")
	}
	e := &HTTPEndpoint{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// deliveryPayload is the wire shape posted downstream. The delivery ID is
// fresh per attempt so the downstream can log or dedupe deliveries on its
// own terms.
type deliveryPayload struct {
	DeliveryID string         `json:"delivery_id"`
	TenantID   string         `json:"tenant_id"`
	Message    InboundMessage `json:"message"`
}

func (e *HTTPEndpoint) Deliver(ctx context.Context, tenantID string, msg InboundMessage) error {
	body, err := json.Marshal(deliveryPayload{
		DeliveryID: uuid.NewString(),
		TenantID:   tenantID,
		Message:    msg,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to downstream: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}
	return nil
}
