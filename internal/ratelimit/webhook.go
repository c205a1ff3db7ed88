package ratelimit

import (
	"context"
	"fmt"

	"github.com/fleetlane/fleetlane/internal/config"
	obsmetrics "github.com/fleetlane/fleetlane/internal/observability/metrics"
	"go.uber.org/zap"
)

// WebhookLimiter throttles webhook ingestion per provider. Providers retry
// aggressively during outages; the bucket absorbs the burst without letting
// a storm starve the rest of the API. Fails open on redis errors.
type WebhookLimiter struct {
	bucket     *TokenBucket
	cfg        config.WebhookRateLimitConfig
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewWebhookLimiter(bucket *TokenBucket, cfg config.Config, log *zap.Logger, metrics *obsmetrics.Metrics) *WebhookLimiter {
	if bucket == nil || !cfg.WebhookRateLimit.Enabled {
		return nil
	}
	return &WebhookLimiter{
		bucket:     bucket,
		cfg:        cfg.WebhookRateLimit,
		log:        log.Named("ratelimit.webhook"),
		obsMetrics: metrics,
	}
}

// Allow reports whether a webhook for the given provider may proceed.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) bool {
	if l == nil {
		return true
	}
	key := fmt.Sprintf("ratelimit:webhook:%s", provider)
	res, err := l.bucket.Allow(ctx, key, l.cfg.RefillRate, l.cfg.BurstSize)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return true
	}
	if !res.Allowed && l.obsMetrics != nil {
		l.obsMetrics.RecordRateLimitDenied(ctx, "webhook", "bucket_empty")
	}
	return res.Allowed
}
