package domain

import (
	"fmt"
	"time"
)

// Outcome is the canonical classification of a provider notification.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeCancelled Outcome = "CANCELLED"
)

// SessionStatus maps the outcome to the payment session status it produces.
func (o Outcome) SessionStatus() SessionStatus {
	switch o {
	case OutcomeSuccess:
		return SessionStatusSucceeded
	case OutcomeCancelled:
		return SessionStatusCancelled
	default:
		return SessionStatusFailed
	}
}

// CanonicalEvent is the provider-agnostic shape every notification is
// normalized into before reconciliation.
type CanonicalEvent struct {
	Provider          string
	ExternalSessionID string
	Outcome           Outcome
	RawPayload        []byte
	ReceivedAt        time.Time
}

// DedupKey identifies this exact event for admission purposes. Keyed on the
// outcome too, so a FAILED followed by a SUCCESS for the same session admits
// as two distinct events while exact redelivery deduplicates.
func (e CanonicalEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", e.Provider, e.ExternalSessionID, e.Outcome)
}

// CheckoutSession is the client-facing result of creating a payment session.
type CheckoutSession struct {
	Provider   string `json:"provider"`
	SessionID  string `json:"session_id"`
	PaymentURL string `json:"payment_url"`
}

// CheckoutStatus is the authoritative state a provider reports for a checkout
// reference when the confirmation gateway asks for it. Period and trial ends
// are optional; absent values must not overwrite locally known ones.
type CheckoutStatus struct {
	Outcome          Outcome
	ProviderSubID    string
	CurrentPeriodEnd *time.Time
	TrialEnd         *time.Time
}
