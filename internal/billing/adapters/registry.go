// Package adapters normalizes provider-specific payloads into canonical
// events and wraps the provider-side checkout API each provider exposes.
package adapters

import (
	"context"
	"strings"

	"github.com/fleetlane/fleetlane/internal/billing/domain"
)

// Adapter is implemented once per payment provider.
type Adapter interface {
	Provider() string

	// Normalize maps a raw webhook payload into a canonical event. Returns
	// domain.ErrEventNotActionable when no session identity can be extracted.
	Normalize(payload []byte) (domain.CanonicalEvent, error)

	// OwnsRef reports whether a checkout reference was issued by this
	// provider (references carry a provider prefix).
	OwnsRef(checkoutRef string) bool

	// NewSessionID generates a provider-opaque external session identifier.
	NewSessionID() string

	// PaymentURL builds the redirect target for a created session.
	PaymentURL(sessionID string) string

	// LookupCheckout fetches the authoritative status for a checkout
	// reference. Non-2xx responses map to domain.ErrProviderLookup; callers
	// must not retry synchronously.
	LookupCheckout(ctx context.Context, checkoutRef string) (*domain.CheckoutStatus, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[strings.ToLower(a.Provider())] = a
	}
	return &Registry{adapters: byName}
}

func (r *Registry) Adapter(provider string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return a, ok
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.Adapter(provider)
	return ok
}

// Resolve finds the adapter that issued the given checkout reference.
func (r *Registry) Resolve(checkoutRef string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	for _, a := range r.adapters {
		if a.OwnsRef(checkoutRef) {
			return a, true
		}
	}
	return nil, false
}
