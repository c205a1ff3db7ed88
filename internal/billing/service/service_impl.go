package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/fleetlane/fleetlane/internal/clock"
	"github.com/fleetlane/fleetlane/internal/config"
	obsmetrics "github.com/fleetlane/fleetlane/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Dunning    *config.DunningConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

// Service is the reconciler. Admission and state transitions run in a single
// transaction so a crash never leaves a consumed idempotency key without its
// effects.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	dunning    *config.DunningConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.reconciler"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		dunning:    p.Dunning,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Apply(ctx context.Context, event domain.CanonicalEvent) error {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return domain.ErrInvalidProvider
	}
	event.ExternalSessionID = strings.TrimSpace(event.ExternalSessionID)
	if event.ExternalSessionID == "" {
		return domain.ErrEventNotActionable
	}
	switch event.Outcome {
	case domain.OutcomeSuccess, domain.OutcomeFailed, domain.OutcomeCancelled:
	default:
		return domain.ErrEventNotActionable
	}

	now := s.clock.Now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.AdmitEvent(ctx, tx, domain.IdempotencyKey{
			Provider:          event.Provider,
			ExternalSessionID: event.ExternalSessionID,
			Outcome:           event.Outcome,
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}
		if !won {
			return domain.ErrDuplicateEvent
		}

		if err := s.repo.InsertEventRecord(ctx, tx, &domain.EventRecord{
			ID:                s.genID.Generate(),
			Provider:          event.Provider,
			ExternalSessionID: event.ExternalSessionID,
			Outcome:           event.Outcome,
			Payload:           datatypes.JSON(event.RawPayload),
			ReceivedAt:        event.ReceivedAt,
		}); err != nil {
			return err
		}

		session, err := s.repo.SessionByExternalID(ctx, tx, event.Provider, event.ExternalSessionID, true)
		if err != nil {
			return err
		}
		if session == nil {
			// Orphan: admitted and audited, nothing to reconcile against.
			s.log.Warn("event references unknown session",
				zap.String("provider", event.Provider),
				zap.String("external_session_id", event.ExternalSessionID),
				zap.String("outcome", string(event.Outcome)),
			)
			return nil
		}

		if event.Outcome == domain.OutcomeSuccess {
			return s.applySuccess(ctx, tx, session, now)
		}
		return s.applyFailure(ctx, tx, session, event.Outcome, now)
	})
	if err != nil {
		if err == domain.ErrDuplicateEvent && s.obsMetrics != nil {
			s.obsMetrics.RecordDuplicateEvent(ctx, event.Provider)
		}
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordReconciliation(ctx, event.Provider, string(event.Outcome))
	}
	return nil
}

func (s *Service) applySuccess(ctx context.Context, tx *gorm.DB, session *domain.PaymentSession, now time.Time) error {
	if session.Status == domain.SessionStatusSucceeded {
		return nil
	}

	if err := s.repo.UpdateSessionStatus(ctx, tx, session.ID, domain.SessionStatusSucceeded, now); err != nil {
		return err
	}

	invoice, err := s.repo.InvoiceByID(ctx, tx, session.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		s.log.Warn("session references unknown invoice",
			zap.String("invoice_id", session.InvoiceID.String()),
		)
		return nil
	}

	if _, err := s.repo.MarkInvoicePaid(ctx, tx, invoice.ID, now); err != nil {
		return err
	}

	if invoice.SubscriptionID == nil || *invoice.SubscriptionID == 0 {
		return nil
	}

	sub, err := s.repo.SubscriptionByID(ctx, tx, *invoice.SubscriptionID, true)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	// The next period anchors on the later of now and the current period end,
	// so a payment landing mid-period extends rather than truncates.
	anchor := now
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(anchor) {
		anchor = *sub.CurrentPeriodEnd
	}
	periodEnd := anchor.AddDate(0, 1, 0)

	return s.repo.ActivateSubscription(ctx, tx, sub.ID, now, periodEnd)
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, session *domain.PaymentSession, outcome domain.Outcome, now time.Time) error {
	// A settled session never reopens on a late failure notification.
	if session.Status == domain.SessionStatusSucceeded {
		return nil
	}

	if err := s.repo.UpdateSessionStatus(ctx, tx, session.ID, outcome.SessionStatus(), now); err != nil {
		return err
	}

	invoice, err := s.repo.InvoiceByID(ctx, tx, session.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return nil
	}

	if _, err := s.repo.MarkInvoiceFailed(ctx, tx, invoice.ID, now); err != nil {
		return err
	}

	return s.maybeDemote(ctx, tx, invoice, now)
}

// maybeDemote moves an active subscription to past_due when dunning is
// enabled and the failed payment lands past the grace period.
func (s *Service) maybeDemote(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, now time.Time) error {
	if s.dunning == nil {
		return nil
	}
	policy := s.dunning.Get()
	if !policy.Enabled {
		return nil
	}
	if invoice.SubscriptionID == nil || *invoice.SubscriptionID == 0 {
		return nil
	}

	sub, err := s.repo.SubscriptionByID(ctx, tx, *invoice.SubscriptionID, true)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status != domain.SubscriptionStatusActive {
		return nil
	}
	if sub.CurrentPeriodEnd == nil {
		return nil
	}
	deadline := sub.CurrentPeriodEnd.AddDate(0, 0, policy.GracePeriodDays)
	if !deadline.Before(now) {
		return nil
	}

	s.log.Info("demoting subscription past due",
		zap.String("subscription_id", sub.ID.String()),
		zap.Time("period_end", *sub.CurrentPeriodEnd),
		zap.Int("grace_days", policy.GracePeriodDays),
	)
	return s.repo.DemoteSubscription(ctx, tx, sub.ID, now)
}
