package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// lockSuffix returns the row-lock clause for dialects that support it.
// sqlite locks the whole database per transaction, so the clause is omitted.
func lockSuffix(db *gorm.DB, forUpdate bool) string {
	if !forUpdate {
		return ""
	}
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) AdmitEvent(ctx context.Context, db *gorm.DB, key domain.IdempotencyKey) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_dedup (provider, external_session_id, outcome, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, external_session_id, outcome) DO NOTHING`,
		key.Provider,
		key.ExternalSessionID,
		key.Outcome,
		key.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertEventRecord(ctx context.Context, db *gorm.DB, rec *domain.EventRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, external_session_id, outcome, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Provider,
		rec.ExternalSessionID,
		rec.Outcome,
		rec.Payload,
		rec.ReceivedAt,
	).Error
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.PaymentSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_sessions (
			id, provider, external_session_id, invoice_id, amount_cents, currency,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Provider,
		session.ExternalSessionID,
		session.InvoiceID,
		session.AmountCents,
		session.Currency,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	).Error
}

func (r *repo) SessionByExternalID(ctx context.Context, db *gorm.DB, provider, externalSessionID string, forUpdate bool) (*domain.PaymentSession, error) {
	var item domain.PaymentSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, external_session_id, invoice_id, amount_cents, currency,
			status, created_at, updated_at
		 FROM payment_sessions
		 WHERE provider = ? AND external_session_id = ?
		 LIMIT 1`+lockSuffix(db, forUpdate),
		provider,
		externalSessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateSessionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SessionStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) InvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, amount_cents, currency, status, subscription_id,
			paid_at, created_at, updated_at
		 FROM invoices
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.InvoiceStatusPaid,
		paidAt,
		paidAt,
		id,
		domain.InvoiceStatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkInvoiceFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.InvoiceStatusFailed,
		now,
		id,
		domain.InvoiceStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, status, provider, provider_sub_id,
			current_period_start, current_period_end, trial_end,
			created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?
		 LIMIT 1`+lockSuffix(db, forUpdate),
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ActivateSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, current_period_start = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		domain.SubscriptionStatusActive,
		periodStart,
		periodEnd,
		periodStart,
		id,
	).Error
}

func (r *repo) DemoteSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.SubscriptionStatusPastDue,
		now,
		id,
		domain.SubscriptionStatusActive,
	).Error
}

func (r *repo) LatestPendingSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, forUpdate bool) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, status, provider, provider_sub_id,
			current_period_start, current_period_end, trial_end,
			created_at, updated_at
		 FROM subscriptions
		 WHERE org_id = ? AND status = ?
		 ORDER BY id DESC
		 LIMIT 1`+lockSuffix(db, forUpdate),
		orgID,
		domain.SubscriptionStatusPendingPayment,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ConfirmSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, provider, providerSubID string, periodEnd, trialEnd *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     provider = ?,
		     provider_sub_id = ?,
		     current_period_start = ?,
		     current_period_end = COALESCE(?, current_period_end),
		     trial_end = COALESCE(?, trial_end),
		     updated_at = ?
		 WHERE id = ?`,
		domain.SubscriptionStatusActive,
		provider,
		providerSubID,
		now,
		periodEnd,
		trialEnd,
		now,
		id,
	).Error
}
