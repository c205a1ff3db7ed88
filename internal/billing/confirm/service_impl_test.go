package confirm_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/adapters/whish"
	"github.com/fleetlane/fleetlane/internal/billing/confirm"
	billingrepo "github.com/fleetlane/fleetlane/internal/billing/repository"
	"github.com/fleetlane/fleetlane/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfirmActivatesPendingSubscription(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 40)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"SUCCESS","subscriptionId":"whish-sub-1","currentPeriodEnd":1775000000}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := newConfirmService(t, db, srv.URL, now)

	orgID := node.Generate()
	older := node.Generate()
	newer := node.Generate()
	seedSubscription(t, db, older, orgID, "pending_payment")
	seedSubscription(t, db, newer, orgID, "pending_payment")

	ok, err := svc.Confirm(ctx, orgID, "whish_ref1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ok {
		t.Fatal("confirm = false, want true")
	}

	// Only the most recent pending row activates.
	assertStatus(t, db, newer, "active")
	assertStatus(t, db, older, "pending_payment")

	var provider, providerSubID string
	if err := db.Raw("SELECT provider, provider_sub_id FROM subscriptions WHERE id = ?", newer).Row().Scan(&provider, &providerSubID); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if provider != "whish" || providerSubID != "whish-sub-1" {
		t.Fatalf("provider = %q sub = %q", provider, providerSubID)
	}

	var periodEnd *time.Time
	if err := db.Raw("SELECT current_period_end FROM subscriptions WHERE id = ?", newer).Scan(&periodEnd).Error; err != nil {
		t.Fatalf("scan period end: %v", err)
	}
	if periodEnd == nil || periodEnd.Unix() != 1775000000 {
		t.Fatalf("period end = %v", periodEnd)
	}
}

func TestConfirmWithoutPendingSubscriptionIsNoOpSuccess(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 41)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"SUCCESS"}`))
	}))
	defer srv.Close()

	svc := newConfirmService(t, db, srv.URL, time.Now().UTC())

	ok, err := svc.Confirm(ctx, node.Generate(), "whish_ref2")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ok {
		t.Fatal("confirm = false, want true")
	}
}

func TestConfirmLookupFailureIsNotOK(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 42)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := newConfirmService(t, db, srv.URL, time.Now().UTC())

	orgID := node.Generate()
	subID := node.Generate()
	seedSubscription(t, db, subID, orgID, "pending_payment")

	ok, err := svc.Confirm(ctx, orgID, "whish_ref3")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("confirm = true, want false")
	}
	assertStatus(t, db, subID, "pending_payment")
}

func TestConfirmUnrecognizedRef(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node := newNode(t, 43)
	svc := newConfirmService(t, db, "http://unused.test", time.Now().UTC())

	ok, err := svc.Confirm(ctx, node.Generate(), "stripe_cs_123")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("confirm = true, want false")
	}
}

func newConfirmService(t *testing.T, db *gorm.DB, baseURL string, now time.Time) *confirm.Service {
	t.Helper()
	registry := adapters.NewRegistry(
		whish.New(whish.Config{BaseURL: baseURL}),
	)
	return confirm.NewService(confirm.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(now),
		Adapters: registry,
		Repo:     billingrepo.Provide(),
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

	dsn := fmt.Sprintf("file:memdb_confirm_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	if err := db.Exec(`CREATE TABLE subscriptions (
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
	)`).Error; err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, id, orgID snowflake.ID, status string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO subscriptions (id, org_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, orgID, status, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func assertStatus(t *testing.T, db *gorm.DB, id snowflake.ID, want string) {
	t.Helper()
	var status string
	if err := db.Raw("SELECT status FROM subscriptions WHERE id = ?", id).Scan(&status).Error; err != nil {
		t.Fatalf("scan status: %v", err)
	}
	if status != want {
		t.Fatalf("subscription %s status = %q, want %q", id, status, want)
	}
}
