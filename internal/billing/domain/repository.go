package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the raw access layer over the billing tables. The db handle
// is passed per call so the same methods work inside and outside a
// transaction.
type Repository interface {
	// AdmitEvent atomically inserts the idempotency marker. Returns true when
	// this caller won the insert; false when the key already existed.
	AdmitEvent(ctx context.Context, db *gorm.DB, key IdempotencyKey) (bool, error)

	InsertEventRecord(ctx context.Context, db *gorm.DB, rec *EventRecord) error

	InsertSession(ctx context.Context, db *gorm.DB, session *PaymentSession) error
	SessionByExternalID(ctx context.Context, db *gorm.DB, provider, externalSessionID string, forUpdate bool) (*PaymentSession, error)
	UpdateSessionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SessionStatus, now time.Time) error

	InvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	// MarkInvoicePaid transitions the invoice to paid unless it already is.
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)
	// MarkInvoiceFailed transitions a pending invoice to failed; a paid
	// invoice is never touched (success is sticky).
	MarkInvoiceFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	SubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Subscription, error)
	ActivateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) error
	DemoteSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	LatestPendingSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, forUpdate bool) (*Subscription, error)
	// ConfirmSubscription activates a pending_payment row with
	// provider-furnished details; nil period/trial ends keep existing values.
	ConfirmSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, provider, providerSubID string, periodEnd, trialEnd *time.Time, now time.Time) error
}
