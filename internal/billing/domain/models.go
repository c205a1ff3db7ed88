// Package domain contains the durable billing records and the contracts
// between the reconciliation services.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents lifecycle states for an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// SessionStatus represents lifecycle states for a payment session.
type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "created"
	SessionStatusSucceeded SessionStatus = "succeeded"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusPastDue        SubscriptionStatus = "past_due"
)

// Invoice is an amount owed by an organization for a billing period.
// Status moves pending→paid or pending→failed and is mutated only by the
// reconciler; a failure notification never overrides a prior paid state.
type Invoice struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID  `json:"org_id" gorm:"not null;index"`
	AmountCents    int64         `json:"amount_cents" gorm:"not null"`
	Currency       string        `json:"currency" gorm:"type:text;not null"`
	Status         InvoiceStatus `json:"status" gorm:"type:text;not null"`
	SubscriptionID *snowflake.ID `json:"subscription_id" gorm:"index"`
	PaidAt         *time.Time    `json:"paid_at"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// PaymentSession is one attempt to pay one invoice through one provider.
// Immutable once succeeded; at most one succeeded session per invoice counts.
type PaymentSession struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	Provider          string        `json:"provider" gorm:"type:text;not null"`
	ExternalSessionID string        `json:"external_session_id" gorm:"type:text;not null"`
	InvoiceID         snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	AmountCents       int64         `json:"amount_cents" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Status            SessionStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
}

func (PaymentSession) TableName() string { return "payment_sessions" }

// Subscription is an organization's recurring billing record. The current
// period end is monotonically non-decreasing once the subscription is active.
type Subscription struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	OrgID              snowflake.ID       `json:"org_id" gorm:"not null;index"`
	Status             SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	Provider           *string            `json:"provider" gorm:"type:text"`
	ProviderSubID      *string            `json:"provider_sub_id" gorm:"type:text"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	TrialEnd           *time.Time         `json:"trial_end"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// EventRecord is an append-only audit entry for a received notification.
// Never mutated or deleted; used for replay and debugging, not control flow.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ExternalSessionID string         `json:"external_session_id" gorm:"type:text;not null"`
	Outcome           Outcome        `json:"outcome" gorm:"type:text;not null"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "payment_events" }

// IdempotencyKey is the durable admission marker. Its insertion under the
// composite unique key is the sole synchronization primitive: exactly one
// concurrent caller wins the insert for a given (provider, session, outcome).
type IdempotencyKey struct {
	Provider          string    `gorm:"primaryKey"`
	ExternalSessionID string    `gorm:"primaryKey;column:external_session_id"`
	Outcome           Outcome   `gorm:"primaryKey;type:text"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (IdempotencyKey) TableName() string { return "webhook_dedup" }
