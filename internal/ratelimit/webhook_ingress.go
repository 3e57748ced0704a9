package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/shigotoba/paygate/internal/config"
)

const keyWebhookIngress = "webhook:ingress:stripe"

// WebhookIngressLimiter throttles the provider webhook endpoint so a replay
// storm cannot flood the inbox. Disabled configuration yields a nil limiter
// that allows everything.
type WebhookIngressLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookIngressLimiter(cfg *config.Config) (*WebhookIngressLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &WebhookIngressLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.WebhookRate,
		burst:   limitCfg.WebhookBurst,
	}, nil
}

func (l *WebhookIngressLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookIngressLimiter) Allow(ctx context.Context) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, keyWebhookIngress, l.rate, l.burst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
