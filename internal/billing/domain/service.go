package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Reconciler applies an admitted canonical event to the durable billing
// state. Admission and state transitions happen in one storage transaction;
// ErrDuplicateEvent reports a key that was already consumed.
type Reconciler interface {
	Apply(ctx context.Context, event CanonicalEvent) error
}

// WebhookService ingests a raw provider notification. Malformed and
// non-actionable payloads return nil (the endpoint acknowledges them so the
// provider stops retrying); only storage failures surface as errors.
type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte) error
}

// CheckoutService creates a payment session for a pending invoice.
type CheckoutService interface {
	Create(ctx context.Context, invoiceID snowflake.ID, provider string) (*CheckoutSession, error)
}

// ConfirmService pulls authoritative checkout status from the provider and
// activates the caller's most recent pending subscription. The bool result is
// what the caller sees as {ok}; errors are reserved for storage failures.
type ConfirmService interface {
	Confirm(ctx context.Context, orgID snowflake.ID, checkoutRef string) (bool, error)
}
