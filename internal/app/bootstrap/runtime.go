// Package bootstrap builds the agent's components from configuration. The
// API server, the queue worker and the ops CLI share it.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/internal/conversation"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL, or returns nil when it is unset.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildConversationStore prefers Postgres and falls back to process memory.
func BuildConversationStore(pool conversation.PgxPool, logger *logging.Logger) conversation.Store {
	if pool == nil {
		logger.Warn("DATABASE_URL not set; conversations are kept in memory only")
		return conversation.NewMemoryStore()
	}
	return conversation.NewPostgresStore(pool)
}

// BuildProcessedStore picks Redis, then Postgres, then memory for webhook
// de-duplication. Backend errors fail open.
func BuildProcessedStore(redisClient redis.Cmdable, pool *pgxpool.Pool, logger *logging.Logger) events.ProcessedStore {
	var store events.ProcessedStore
	switch {
	case redisClient != nil:
		store = events.NewRedisProcessedStore(redisClient, events.DefaultTTL)
	case pool != nil:
		store = events.NewPostgresProcessedStore(pool)
	default:
		store = events.NewMemoryProcessedStore(events.DefaultTTL)
	}
	return events.FailOpen{
		Store: store,
		OnError: func(provider, eventID string, err error) {
			logger.Warn("processed-event store unavailable", "provider", provider, "event_id", eventID, "error", err)
		},
	}
}

// Limiter is what the WHAPI provider and the ops CLI need from a limiter.
type Limiter interface {
	ratelimit.Limiter
	ratelimit.StatusReporter
}

// BuildLimiter shares the WHAPI budget through Redis when available.
func BuildLimiter(cfg *appconfig.Config, redisClient redis.UniversalClient, m *metrics.AgentMetrics, logger *logging.Logger) Limiter {
	policy := ratelimit.Policy{
		MaxPerWindow:    cfg.WhapiMaxPerMinute,
		Window:          time.Minute,
		MinSpacing:      cfg.WhapiMinSpacing,
		MaxDailyMinutes: cfg.WhapiMaxDailyActiveMinutes,
	}
	observer := func(key string, waited time.Duration) {
		m.ObserveRateLimitWait(key, waited.Seconds())
	}
	if redisClient != nil {
		return ratelimit.NewRedisLimiter(redisClient, policy, logger, ratelimit.WithRedisObserver(observer))
	}
	logger.Info("redis not configured; whapi rate limit is per process")
	return ratelimit.NewLocalLimiter(policy, logger, ratelimit.WithLocalObserver(observer))
}
