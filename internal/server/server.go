package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/billing"
	billingdomain "github.com/fleetlane/fleetlane/internal/billing/domain"
	"github.com/fleetlane/fleetlane/internal/config"
	"github.com/fleetlane/fleetlane/internal/observability"
	obsmiddleware "github.com/fleetlane/fleetlane/internal/observability/logger"
	obsmetrics "github.com/fleetlane/fleetlane/internal/observability/metrics"
	obstracing "github.com/fleetlane/fleetlane/internal/observability/tracing"
	"github.com/fleetlane/fleetlane/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	billing.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           billingdomain.Repository
	webhookSvc     billingdomain.WebhookService
	checkoutSvc    billingdomain.CheckoutService
	confirmSvc     billingdomain.ConfirmService
	webhookLimiter *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Engine         *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           billingdomain.Repository
	WebhookSvc     billingdomain.WebhookService
	CheckoutSvc    billingdomain.CheckoutService
	ConfirmSvc     billingdomain.ConfirmService
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Engine,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		genID:          p.GenID,
		repo:           p.Repo,
		webhookSvc:     p.WebhookSvc,
		checkoutSvc:    p.CheckoutSvc,
		confirmSvc:     p.ConfirmSvc,
		webhookLimiter: p.WebhookLimiter,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
	api.POST("/payments/:provider/checkout", s.HandleCreateCheckout)
	api.GET("/invoices/:id", s.HandleGetInvoice)

	billing := api.Group("/billing")
	billing.Use(OrgContext())
	billing.GET("/confirm", s.HandleBillingConfirm)
}
