// Package status defines the durable connection-status record the gateway
// maintains per tenant — the externally visible "clients" row. Writes are
// best-effort telemetry: a failed write is logged by the caller and never
// blocks a session transition, so implementations should not retry
// internally.
package status

import (
	"context"
	"time"
)

// Record is one tenant's durable status row.
type Record struct {
	TenantID  string    `json:"tenant_id"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists per-tenant connection status.
type Store interface {
	// SetStatus upserts the tenant's status row.
	SetStatus(ctx context.Context, tenantID, value string, updatedAt time.Time) error

	// GetStatus returns the tenant's row, or (nil, nil) when absent.
	GetStatus(ctx context.Context, tenantID string) (*Record, error)

	// ClearStatus removes the tenant's row. Clearing an absent row is not
	// an error.
	ClearStatus(ctx context.Context, tenantID string) error
}
