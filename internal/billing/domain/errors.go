package domain

import "errors"

var (
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrEventNotActionable = errors.New("event_not_actionable")
	ErrDuplicateEvent     = errors.New("duplicate_event")
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvoiceNotPending  = errors.New("invoice_not_pending")
	ErrProviderLookup     = errors.New("provider_lookup_failed")
)
