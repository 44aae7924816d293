package ports

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is returned by BillingClient.ConsumeCredits
// when the tenant's balance is below the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrBillingServiceUnavailable is returned by BillingClient when the
// concrete billing service cannot be reached at all (as opposed to
// responding with a business-level rejection).
var ErrBillingServiceUnavailable = errors.New("billing service unavailable")

// Balance is a tenant's current credit balance.
type Balance struct {
	TenantID string
	Amount   int64
}

// ConsumeCreditsRequest charges a tenant for one pipeline step.
type ConsumeCreditsRequest struct {
	TenantID       string
	Amount         int64
	IdempotencyKey string
	ReferenceType  string
	ReferenceID    string
	Metadata       map[string]any
}

// BillingClient is the core's view of the concrete billing service.
type BillingClient interface {
	// GetBalance returns the tenant's current balance. May fail with
	// ErrBillingServiceUnavailable when the service cannot be reached.
	GetBalance(ctx context.Context, tenantID string) (Balance, error)

	// ConsumeCredits charges amount credits to the tenant, deduplicated
	// by IdempotencyKey: a repeated call with the same key must not
	// charge twice. Returns ErrInsufficientCredits when the tenant's
	// balance is below the requested amount.
	ConsumeCredits(ctx context.Context, req ConsumeCreditsRequest) error
}
