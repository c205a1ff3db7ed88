// Package checkout creates payment sessions for pending invoices.
package checkout

import (
	"context"
	"strings"

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
	GenID      *snowflake.Node
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adapters   *adapters.Registry
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.checkout"),
		genID:      p.GenID,
		clock:      p.Clock,
		adapters:   p.Adapters,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, invoiceID snowflake.ID, provider string) (*domain.CheckoutSession, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := s.adapters.Adapter(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	invoice, err := s.repo.InvoiceByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if invoice.Status != domain.InvoiceStatusPending {
		return nil, domain.ErrInvoiceNotPending
	}

	now := s.clock.Now().UTC()
	externalID := adapter.NewSessionID()
	session := &domain.PaymentSession{
		ID:                s.genID.Generate(),
		Provider:          provider,
		ExternalSessionID: externalID,
		InvoiceID:         invoice.ID,
		AmountCents:       invoice.AmountCents,
		Currency:          invoice.Currency,
		Status:            domain.SessionStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertSession(ctx, s.db, session); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckoutSession(ctx, provider)
	}
	s.log.Info("checkout session created",
		zap.String("provider", provider),
		zap.String("external_session_id", externalID),
		zap.String("invoice_id", invoice.ID.String()),
	)

	return &domain.CheckoutSession{
		Provider:   provider,
		SessionID:  externalID,
		PaymentURL: adapter.PaymentURL(externalID),
	}, nil
}
