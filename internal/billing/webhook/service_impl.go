// Package webhook turns raw provider notifications into reconciled events.
package webhook

import (
	"context"
	"errors"
	"strings"

	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	obsmetrics "github.com/fleetlane/fleetlane/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Adapters   *adapters.Registry
	Reconciler domain.Reconciler
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	adapters   *adapters.Registry
	reconciler domain.Reconciler
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("billing.webhook"),
		adapters:   p.Adapters,
		reconciler: p.Reconciler,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest normalizes and reconciles one notification. Payloads that carry no
// usable session identity are acknowledged with nil so the provider stops
// retrying; only storage failures and duplicates surface as errors.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrInvalidProvider
	}

	adapter, ok := s.adapters.Adapter(provider)
	if !ok {
		return domain.ErrProviderNotFound
	}

	event, err := adapter.Normalize(payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotActionable) {
			s.log.Warn("discarding non-actionable webhook",
				zap.String("provider", provider),
				zap.Int("payload_bytes", len(payload)),
			)
			return nil
		}
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, string(event.Outcome))
	}

	return s.reconciler.Apply(ctx, event)
}
