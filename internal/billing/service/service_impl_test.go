package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	billingrepo "github.com/fleetlane/fleetlane/internal/billing/repository"
	billingservice "github.com/fleetlane/fleetlane/internal/billing/service"
	"github.com/fleetlane/fleetlane/internal/clock"
	"github.com/fleetlane/fleetlane/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestApplySuccessSettlesInvoiceAndActivatesSubscription(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 1)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(now)
	svc := newReconciler(t, db, node, fake, nil)

	orgID := node.Generate()
	subID := node.Generate()
	invoiceID := node.Generate()
	seedSubscription(t, db, subID, orgID, domain.SubscriptionStatusPendingPayment, nil)
	seedInvoice(t, db, invoiceID, orgID, &subID, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "whish_100", invoiceID, domain.SessionStatusCreated)

	err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider:          "whish",
		ExternalSessionID: "whish_100",
		Outcome:           domain.OutcomeSuccess,
		RawPayload:        []byte(`{"id":"whish_100","status":"SUCCESS"}`),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	assertSessionStatus(t, db, "whish_100", domain.SessionStatusSucceeded)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusPaid)

	var paidAt *time.Time
	if err := db.Raw("SELECT paid_at FROM invoices WHERE id = ?", invoiceID).Scan(&paidAt).Error; err != nil {
		t.Fatalf("scan paid_at: %v", err)
	}
	if paidAt == nil {
		t.Fatal("expected paid_at to be set")
	}

	sub := loadSubscription(t, db, subID)
	if sub.Status != domain.SubscriptionStatusActive {
		t.Fatalf("subscription status = %q", sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, now.AddDate(0, 1, 0))
	}

	assertCount(t, db, "SELECT COUNT(1) FROM webhook_dedup", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
}

func TestApplyExactRedeliveryIsDuplicate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 2)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, node.Generate(), nil, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "s-1", invoiceID, domain.SessionStatusCreated)

	event := domain.CanonicalEvent{
		Provider:          "whish",
		ExternalSessionID: "s-1",
		Outcome:           domain.OutcomeSuccess,
		RawPayload:        []byte(`{}`),
	}
	if err := svc.Apply(ctx, event); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := svc.Apply(ctx, event); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("second apply err = %v, want ErrDuplicateEvent", err)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM webhook_dedup", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
}

func TestFailureThenSuccessRecovers(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 3)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, node.Generate(), nil, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "aps", "fort-1", invoiceID, domain.SessionStatusCreated)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "aps", ExternalSessionID: "fort-1", Outcome: domain.OutcomeFailed, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	assertSessionStatus(t, db, "fort-1", domain.SessionStatusFailed)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusFailed)

	// A retry on the same session can still settle the invoice.
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "aps", ExternalSessionID: "fort-1", Outcome: domain.OutcomeSuccess, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	assertSessionStatus(t, db, "fort-1", domain.SessionStatusSucceeded)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusPaid)

	assertCount(t, db, "SELECT COUNT(1) FROM webhook_dedup", 2)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 2)
}

func TestLateFailureNeverReopensSettledInvoice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 4)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, node.Generate(), nil, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "s-2", invoiceID, domain.SessionStatusCreated)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "s-2", Outcome: domain.OutcomeSuccess, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "s-2", Outcome: domain.OutcomeFailed, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply late failure: %v", err)
	}

	assertSessionStatus(t, db, "s-2", domain.SessionStatusSucceeded)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusPaid)
}

func TestRenewalExtendsFromPeriodEnd(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 5)
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(now)
	svc := newReconciler(t, db, node, fake, nil)

	orgID := node.Generate()
	subID := node.Generate()
	seedSubscription(t, db, subID, orgID, domain.SubscriptionStatusPendingPayment, nil)

	first := node.Generate()
	seedInvoice(t, db, first, orgID, &subID, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "cycle-1", first, domain.SessionStatusCreated)
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "cycle-1", Outcome: domain.OutcomeSuccess, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("first renewal: %v", err)
	}

	firstEnd := now.AddDate(0, 1, 0)
	sub := loadSubscription(t, db, subID)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(firstEnd) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, firstEnd)
	}

	// Paying early, mid-period: the new period extends from the current end,
	// not from the payment time.
	fake.Advance(10 * 24 * time.Hour)
	second := node.Generate()
	seedInvoice(t, db, second, orgID, &subID, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "cycle-2", second, domain.SessionStatusCreated)
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "cycle-2", Outcome: domain.OutcomeSuccess, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("second renewal: %v", err)
	}

	sub = loadSubscription(t, db, subID)
	want := firstEnd.AddDate(0, 1, 0)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("period end after early renewal = %v, want %v", sub.CurrentPeriodEnd, want)
	}
}

func TestApplyConcurrentDeliveriesAdmitOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 10)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	// sqlite allows a single writer; one pooled connection queues concurrent
	// transactions instead of surfacing lock errors.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, node.Generate(), nil, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "burst-1", invoiceID, domain.SessionStatusCreated)

	event := domain.CanonicalEvent{
		Provider:          "whish",
		ExternalSessionID: "burst-1",
		Outcome:           domain.OutcomeSuccess,
		RawPayload:        []byte(`{}`),
	}

	const deliveries = 16
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Apply(ctx, event)
		}()
	}
	wg.Wait()
	close(errs)

	var applied, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrDuplicateEvent):
			duplicates++
		default:
			t.Fatalf("concurrent apply: %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want exactly 1", applied)
	}
	if duplicates != deliveries-1 {
		t.Fatalf("duplicates = %d, want %d", duplicates, deliveries-1)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM webhook_dedup", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusPaid)
}

func TestOrphanEventIsAdmittedAndAudited(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 6)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	event := domain.CanonicalEvent{
		Provider:          "whish",
		ExternalSessionID: "never-created",
		Outcome:           domain.OutcomeSuccess,
		RawPayload:        []byte(`{}`),
	}
	if err := svc.Apply(ctx, event); err != nil {
		t.Fatalf("apply orphan: %v", err)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM webhook_dedup", 1)
	assertCount(t, db, "SELECT COUNT(1) FROM payment_events", 1)

	if err := svc.Apply(ctx, event); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("redelivered orphan err = %v, want ErrDuplicateEvent", err)
	}
}

func TestCancelledOutcome(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 7)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, node.Generate(), nil, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "aps", "fort-2", invoiceID, domain.SessionStatusCreated)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "aps", ExternalSessionID: "fort-2", Outcome: domain.OutcomeCancelled, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	assertSessionStatus(t, db, "fort-2", domain.SessionStatusCancelled)
	assertInvoiceStatus(t, db, invoiceID, domain.InvoiceStatusFailed)
}

func TestDunningDemotesPastGrace(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 8)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dunning := config.NewStaticDunningHolder(config.DunningConfig{Enabled: true, GracePeriodDays: 3})
	svc := newReconciler(t, db, node, clock.NewFakeClock(now), dunning)

	orgID := node.Generate()
	subID := node.Generate()
	periodEnd := now.AddDate(0, 0, -10)
	seedSubscription(t, db, subID, orgID, domain.SubscriptionStatusActive, &periodEnd)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, orgID, &subID, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "s-3", invoiceID, domain.SessionStatusCreated)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "s-3", Outcome: domain.OutcomeFailed, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sub := loadSubscription(t, db, subID)
	if sub.Status != domain.SubscriptionStatusPastDue {
		t.Fatalf("subscription status = %q, want past_due", sub.Status)
	}
}

func TestDunningDisabledLeavesSubscriptionActive(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 9)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newReconciler(t, db, node, clock.NewFakeClock(now), nil)

	orgID := node.Generate()
	subID := node.Generate()
	periodEnd := now.AddDate(0, 0, -10)
	seedSubscription(t, db, subID, orgID, domain.SubscriptionStatusActive, &periodEnd)

	invoiceID := node.Generate()
	seedInvoice(t, db, invoiceID, orgID, &subID, domain.InvoiceStatusPending)
	seedSession(t, db, node.Generate(), "whish", "s-4", invoiceID, domain.SessionStatusCreated)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "s-4", Outcome: domain.OutcomeFailed, RawPayload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sub := loadSubscription(t, db, subID)
	if sub.Status != domain.SubscriptionStatusActive {
		t.Fatalf("subscription status = %q, want active", sub.Status)
	}
}

func TestApplyRejectsUnusableEvents(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 12)
	svc := newReconciler(t, db, node, clock.NewFakeClock(time.Now()), nil)

	if err := svc.Apply(ctx, domain.CanonicalEvent{
		ExternalSessionID: "s", Outcome: domain.OutcomeSuccess,
	}); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("missing provider err = %v", err)
	}
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", Outcome: domain.OutcomeSuccess,
	}); !errors.Is(err, domain.ErrEventNotActionable) {
		t.Fatalf("missing session err = %v", err)
	}
	if err := svc.Apply(ctx, domain.CanonicalEvent{
		Provider: "whish", ExternalSessionID: "s", Outcome: domain.Outcome("WEIRD"),
	}); !errors.Is(err, domain.ErrEventNotActionable) {
		t.Fatalf("unknown outcome err = %v", err)
	}
}

func newReconciler(t *testing.T, db *gorm.DB, node *snowflake.Node, clk clock.Clock, dunning *config.DunningConfigHolder) *billingservice.Service {
	t.Helper()
	return billingservice.NewService(billingservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    billingrepo.Provide(),
		Dunning: dunning,
	})
}

func newNode(t *testing.T, id int64) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(id)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			amount_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			subscription_id BIGINT,
			paid_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payment_sessions (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			external_session_id TEXT NOT NULL,
			invoice_id BIGINT NOT NULL,
			amount_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_sessions_provider_external ON payment_sessions(provider, external_session_id)`,
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			provider TEXT,
			provider_sub_id TEXT,
			current_period_start TIMESTAMP,
			current_period_end TIMESTAMP,
			trial_end TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			external_session_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload TEXT,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE webhook_dedup (
			provider TEXT NOT NULL,
			external_session_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, external_session_id, outcome)
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return db
}

func seedInvoice(t *testing.T, db *gorm.DB, id, orgID snowflake.ID, subID *snowflake.ID, status domain.InvoiceStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO invoices (id, org_id, amount_cents, currency, status, subscription_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, orgID, 4900, "USD", status, subID, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func seedSession(t *testing.T, db *gorm.DB, id snowflake.ID, provider, externalID string, invoiceID snowflake.ID, status domain.SessionStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO payment_sessions (id, provider, external_session_id, invoice_id, amount_cents, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, provider, externalID, invoiceID, 4900, "USD", status, now, now,
	).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func seedSubscription(t *testing.T, db *gorm.DB, id, orgID snowflake.ID, status domain.SubscriptionStatus, periodEnd *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO subscriptions (id, org_id, status, current_period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, orgID, status, periodEnd, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func loadSubscription(t *testing.T, db *gorm.DB, id snowflake.ID) domain.Subscription {
	t.Helper()
	var sub domain.Subscription
	if err := db.Raw(
		`SELECT id, org_id, status, provider, provider_sub_id, current_period_start,
			current_period_end, trial_end, created_at, updated_at
		 FROM subscriptions WHERE id = ?`, id,
	).Scan(&sub).Error; err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	return sub
}

func assertSessionStatus(t *testing.T, db *gorm.DB, externalID string, want domain.SessionStatus) {
	t.Helper()
	var status string
	if err := db.Raw("SELECT status FROM payment_sessions WHERE external_session_id = ?", externalID).Scan(&status).Error; err != nil {
		t.Fatalf("scan session status: %v", err)
	}
	if status != string(want) {
		t.Fatalf("session %s status = %q, want %q", externalID, status, want)
	}
}

func assertInvoiceStatus(t *testing.T, db *gorm.DB, id snowflake.ID, want domain.InvoiceStatus) {
	t.Helper()
	var status string
	if err := db.Raw("SELECT status FROM invoices WHERE id = ?", id).Scan(&status).Error; err != nil {
		t.Fatalf("scan invoice status: %v", err)
	}
	if status != string(want) {
		t.Fatalf("invoice status = %q, want %q", status, want)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, want int64) {
	t.Helper()
	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != want {
		t.Fatalf("%s = %d, want %d", query, count, want)
	}
}
