// Package confirm pulls authoritative checkout status from a provider and
// activates the caller's pending subscription.
package confirm

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/fleetlane/fleetlane/internal/clock"
	obsmetrics "github.com/fleetlane/fleetlane/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	adapters   *adapters.Registry
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.confirm"),
		clock:      p.Clock,
		adapters:   p.Adapters,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Confirm resolves the adapter that issued the checkout reference, asks it
// for the authoritative status, and activates the caller's most recent
// pending subscription on success. A failed provider lookup is reported as
// not-ok, never as an error: the webhook path will still settle the payment.
func (s *Service) Confirm(ctx context.Context, orgID snowflake.ID, checkoutRef string) (bool, error) {
	adapter, ok := s.adapters.Resolve(checkoutRef)
	if !ok {
		s.log.Warn("confirm with unrecognized checkout ref",
			zap.String("checkout_ref", checkoutRef),
		)
		return false, nil
	}
	provider := adapter.Provider()

	status, err := adapter.LookupCheckout(ctx, checkoutRef)
	if err != nil {
		s.log.Warn("provider lookup failed",
			zap.String("provider", provider),
			zap.String("checkout_ref", checkoutRef),
			zap.Error(err),
		)
		s.recordConfirmation(ctx, provider, "lookup_failed")
		return false, nil
	}
	if status.Outcome != domain.OutcomeSuccess {
		s.recordConfirmation(ctx, provider, "not_paid")
		return false, nil
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.LatestPendingSubscription(ctx, tx, orgID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			// Already confirmed through another path; nothing left to do.
			return nil
		}
		return s.repo.ConfirmSubscription(ctx, tx, sub.ID, provider, status.ProviderSubID, status.CurrentPeriodEnd, status.TrialEnd, now)
	})
	if err != nil {
		return false, err
	}

	s.recordConfirmation(ctx, provider, "ok")
	return true, nil
}

func (s *Service) recordConfirmation(ctx context.Context, provider, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordConfirmation(ctx, provider, result)
	}
}
