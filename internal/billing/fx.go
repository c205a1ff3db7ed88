package billing

import (
	"github.com/fleetlane/fleetlane/internal/billing/adapters"
	"github.com/fleetlane/fleetlane/internal/billing/adapters/aps"
	"github.com/fleetlane/fleetlane/internal/billing/adapters/whish"
	"github.com/fleetlane/fleetlane/internal/billing/checkout"
	"github.com/fleetlane/fleetlane/internal/billing/confirm"
	"github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/fleetlane/fleetlane/internal/billing/repository"
	billingservice "github.com/fleetlane/fleetlane/internal/billing/service"
	"github.com/fleetlane/fleetlane/internal/billing/webhook"
	"github.com/fleetlane/fleetlane/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			whish.New(whish.Config{BaseURL: cfg.WhishBaseURL}),
			aps.New(aps.Config{BaseURL: cfg.APSBaseURL}),
		)
	}),
	fx.Provide(config.NewDunningConfigHolder),
	fx.Provide(
		billingservice.NewService,
		func(s *billingservice.Service) domain.Reconciler { return s },
	),
	fx.Provide(
		webhook.NewService,
		func(s *webhook.Service) domain.WebhookService { return s },
	),
	fx.Provide(
		checkout.NewService,
		func(s *checkout.Service) domain.CheckoutService { return s },
	),
	fx.Provide(
		confirm.NewService,
		func(s *confirm.Service) domain.ConfirmService { return s },
	),
)
