package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/coop-chat-agent/internal/api/router"
	"github.com/wolfman30/coop-chat-agent/internal/archive"
	"github.com/wolfman30/coop-chat-agent/internal/channels"
	"github.com/wolfman30/coop-chat-agent/internal/channels/telegram"
	"github.com/wolfman30/coop-chat-agent/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/internal/conversation"
	"github.com/wolfman30/coop-chat-agent/internal/dispatch"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/internal/http/handlers"
	"github.com/wolfman30/coop-chat-agent/internal/notify"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/internal/receipts"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Inbound dispatch modes.
const (
	ModeInline = "inline"
	ModeMemory = "memory"
	ModeSQS    = "sqs"
)

const memoryQueueBuffer = 256

// AWSLoader builds the shared AWS SDK config.
type AWSLoader func(ctx context.Context, cfg *appconfig.Config) (aws.Config, error)

// Options carries what the binaries inject into Build.
type Options struct {
	// Registry receives the agent metrics. A fresh registry with the Go and
	// process collectors is created when nil.
	Registry *prometheus.Registry
	// AWS is required when the configuration uses SQS, S3, SES or Bedrock.
	AWS AWSLoader
	// SkipRedisPing builds the Redis client without the startup ping.
	SkipRedisPing bool
}

// Components is the assembled agent.
type Components struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	Metrics *metrics.AgentMetrics

	Redis    *redis.Client
	Postgres *pgxpool.Pool

	Engine     *conversation.Engine
	Runner     *channels.Runner
	Providers  *providers.Factory
	Limiter    Limiter
	Processed  events.ProcessedStore
	Dispatcher dispatch.Dispatcher
	// Queue is nil in inline mode.
	Queue dispatch.Queue

	WhatsApp    *whatsapp.Webhook
	Telegram    *telegram.Adapter
	TelegramBot *tgbotapi.BotAPI

	Handler http.Handler

	closers []func()
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (_ *Components, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.InboundMode))
	if mode == "" {
		mode = ModeInline
	}
	if mode != ModeInline && mode != ModeMemory && mode != ModeSQS {
		return nil, fmt.Errorf("bootstrap: unknown inbound mode %q", cfg.InboundMode)
	}

	c := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c.Metrics = metrics.NewAgentMetrics(registry)

	var awsCfg *aws.Config
	if cfg.UsesAWS() {
		if opts.AWS == nil {
			return nil, errors.New("bootstrap: configuration needs AWS but no loader was given")
		}
		loaded, err := opts.AWS(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: aws config: %w", err)
		}
		awsCfg = &loaded
	}

	c.Redis = BuildRedisClient(ctx, cfg, logger, !opts.SkipRedisPing)
	if c.Redis != nil {
		c.closers = append(c.closers, func() { _ = c.Redis.Close() })
	}
	c.Postgres, err = BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c.Postgres != nil {
		c.closers = append(c.closers, c.Postgres.Close)
	}

	var redisClient redis.UniversalClient
	if c.Redis != nil {
		redisClient = c.Redis
	}
	c.Limiter = BuildLimiter(cfg, redisClient, c.Metrics, logger)
	c.Processed = BuildProcessedStore(cmdable(c.Redis), c.Postgres, logger)
	c.Providers = BuildProviderFactory(cfg, c.Limiter, c.Metrics, logger)
	c.TelegramBot = BuildTelegramBot(c.Providers)

	llmClient, err := BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	ai := BuildAssistant(llmClient, cfg, logger)
	detector, err := BuildDetector(cfg, ai, logger)
	if err != nil {
		return nil, err
	}

	notifier := BuildNotifier(cfg, awsCfg, logger)
	directory := partners.NewClient(cfg.PartnerAPIBaseURL, cfg.PartnerAPIToken, logger,
		partners.WithTimeout(cfg.PartnerAPITimeout),
		partners.WithUploadTimeout(cfg.ReceiptUploadTimeout),
	)

	engineOpts := []conversation.Option{
		conversation.WithNotifier(notifier),
		conversation.WithMetrics(c.Metrics),
		conversation.WithAuthPolicy(cfg.AuthMaxFailures, cfg.AuthLockout),
	}
	if cfg.AIAnswerUnknown && ai.Available() {
		engineOpts = append(engineOpts, conversation.WithAnswerer(ai))
	}
	var pool conversation.PgxPool
	if c.Postgres != nil {
		pool = c.Postgres
	}
	c.Engine = conversation.NewEngine(BuildConversationStore(pool, logger), directory, detector, logger, engineOpts...)

	receiptOpts := []receipts.Option{
		receipts.WithFetcher(BuildFetcher(cfg)),
		receipts.WithNotifier(notifier),
		receipts.WithMetrics(c.Metrics),
	}
	if cfg.ReceiptArchiveBucket != "" && awsCfg != nil {
		receiptOpts = append(receiptOpts, receipts.WithArchiver(archive.NewStore(s3.NewFromConfig(*awsCfg), cfg.ReceiptArchiveBucket, logger)))
	}
	processor := receipts.NewProcessor(c.Engine, directory, ai, logger, receiptOpts...)

	runnerOpts := []channels.RunnerOption{
		channels.WithSender(providers.ChannelTelegram, channelSender{factory: c.Providers, channel: providers.ChannelTelegram}),
		channels.WithSender(providers.ChannelWhatsApp, channelSender{factory: c.Providers, channel: providers.ChannelWhatsApp}),
		channels.WithFileResolver(providers.ChannelWhatsApp, whatsapp.NewMediaClient(cfg.MetaWhatsAppToken, cfg.MetaGraphAPIBase, nil)),
		channels.WithMetrics(c.Metrics),
	}
	if c.TelegramBot != nil {
		runnerOpts = append(runnerOpts, channels.WithFileResolver(providers.ChannelTelegram, telegram.NewFileResolver(c.TelegramBot)))
	}
	c.Runner = channels.NewRunner(c.Engine, processor, logger, runnerOpts...)

	switch mode {
	case ModeInline:
		c.Dispatcher = dispatch.NewInline(c.Runner, cfg.TurnTimeout, logger)
	case ModeMemory:
		c.Queue = dispatch.NewMemoryQueue(memoryQueueBuffer)
		c.Dispatcher = dispatch.NewPublisher(c.Queue)
	case ModeSQS:
		if strings.TrimSpace(cfg.InboundQueueURL) == "" {
			return nil, errors.New("bootstrap: INBOUND_QUEUE_URL is required in sqs mode")
		}
		c.Queue = dispatch.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.InboundQueueURL)
		c.Dispatcher = dispatch.NewPublisher(c.Queue)
	}

	c.WhatsApp = whatsapp.NewWebhook(c.Dispatcher, logger,
		whatsapp.WithCountryCode(cfg.WhatsAppDefaultCountryCode),
		whatsapp.WithAllowedSenders(cfg.WhatsAppAllowedSenders),
		whatsapp.WithProcessedStore(c.Processed),
		whatsapp.WithMeta(cfg.MetaVerifyToken, cfg.MetaAppSecret),
		whatsapp.WithMetrics(c.Metrics),
	)
	c.Telegram = telegram.NewAdapter(c.Dispatcher, logger,
		telegram.WithSecret(cfg.TelegramWebhookSecret),
		telegram.WithProcessedStore(c.Processed),
		telegram.WithMetrics(c.Metrics),
	)

	c.Handler = router.New(&router.Config{
		Logger:               logger,
		WhatsApp:             c.WhatsApp,
		Telegram:             c.Telegram,
		AdminConversations:   handlers.NewAdminConversationsHandler(c.Engine, logger),
		AdminMessaging:       handlers.NewAdminMessagingHandler(c.Providers, logger),
		AdminAuthSecret:      cfg.AdminJWTSecret,
		MetricsHandler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		WebhookRatePerSecond: cfg.WebhookRatePerSecond,
		WebhookRateBurst:     cfg.WebhookRateBurst,
		HealthChecks:         c.healthChecks(),
	})
	return c, nil
}

// NewWorker consumes the inbound queue. It returns nil in inline mode.
func (c *Components) NewWorker(opts ...dispatch.WorkerOption) *dispatch.Worker {
	if c.Queue == nil {
		return nil
	}
	base := []dispatch.WorkerOption{
		dispatch.WithConcurrency(c.Config.WorkerCount),
		dispatch.WithJobTimeout(c.Config.TurnTimeout),
	}
	return dispatch.NewWorker(c.Queue, c.Runner, c.Logger, append(base, opts...)...)
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Components) healthChecks() map[string]router.HealthCheck {
	checks := make(map[string]router.HealthCheck)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

// BuildNotifier picks the e-mail backend for support notifications.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Service {
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sg != nil {
			sender = sg
		}
	case "ses":
		if awsCfg != nil {
			sender = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger)
		}
	}
	if sender == nil {
		sender = notify.NewStubEmailSender(logger)
	}
	return notify.NewService(sender, cfg.SupportNotifyEmail, logger)
}

func cmdable(client *redis.Client) redis.Cmdable {
	if client == nil {
		return nil
	}
	return client
}
