package bootstrap

import (
	"context"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
	"github.com/wolfman30/coop-chat-agent/internal/receipts"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const metaMediaHost = "lookaside.fbsbx.com"

// ProviderSettings maps configuration onto the provider registry. Replies
// on Telegram are rendered with Markdown emphasis.
func ProviderSettings(cfg *appconfig.Config, limiter ratelimit.Limiter, m *metrics.AgentMetrics) providers.Settings {
	return providers.Settings{
		Telegram: providers.TelegramConfig{
			Token:     cfg.TelegramBotToken,
			Endpoint:  cfg.TelegramAPIEndpoint,
			ParseMode: tgbotapi.ModeMarkdown,
		},
		Meta: providers.MetaConfig{
			Token:         cfg.MetaWhatsAppToken,
			PhoneNumberID: cfg.MetaWhatsAppPhoneNumberID,
			GraphAPIBase:  cfg.MetaGraphAPIBase,
			CountryCode:   cfg.WhatsAppDefaultCountryCode,
		},
		WHAPI: providers.WHAPIConfig{
			Token:       cfg.WhapiToken,
			BaseURL:     cfg.WhapiBaseURL,
			CountryCode: cfg.WhatsAppDefaultCountryCode,
			Limiter:     limiter,
			Pacer:       ratelimit.NewPacer(cfg.WhapiMinDelay, cfg.WhapiMaxDelay),
		},
		WhatsAppPreference: cfg.WhatsAppProvider,
		Metrics:            m,
	}
}

// BuildProviderFactory registers every outbound provider.
func BuildProviderFactory(cfg *appconfig.Config, limiter ratelimit.Limiter, m *metrics.AgentMetrics, logger *logging.Logger) *providers.Factory {
	return providers.NewDefaultFactory(ProviderSettings(cfg, limiter, m), logger)
}

// BuildTelegramBot returns the Bot API client of the registered Telegram
// provider, used for polling and file links, or nil without a token.
func BuildTelegramBot(factory *providers.Factory) *tgbotapi.BotAPI {
	if factory == nil {
		return nil
	}
	p, err := factory.Get(providers.ChannelTelegram, providers.NameTelegramBot)
	if err != nil {
		return nil
	}
	if wrapped, ok := p.(*providers.Instrumented); ok {
		p = wrapped.Provider
	}
	tp, ok := p.(*providers.TelegramProvider)
	if !ok {
		return nil
	}
	return tp.Bot()
}

// channelSender resolves the provider on every send so that a preference
// change or a provider losing its credentials takes effect immediately.
type channelSender struct {
	factory *providers.Factory
	channel string
}

func (s channelSender) SendText(ctx context.Context, recipient, text string) providers.Result {
	p, err := s.factory.Get(s.channel, "")
	if err != nil {
		return providers.Result{Error: err.Error()}
	}
	return p.SendText(ctx, recipient, text)
}

// BuildFetcher downloads receipt photos. Provider credentials are only sent
// to the hosts that serve that provider's media.
func BuildFetcher(cfg *appconfig.Config) *receipts.HTTPFetcher {
	f := receipts.NewHTTPFetcher(nil, nil)
	if token := strings.TrimSpace(cfg.MetaWhatsAppToken); token != "" {
		f.WithHostHeaders(metaMediaHost, map[string]string{"Authorization": "Bearer " + token})
	}
	if token := strings.TrimSpace(cfg.WhapiToken); token != "" {
		if u, err := url.Parse(cfg.WhapiBaseURL); err == nil && u.Hostname() != "" {
			f.WithHostHeaders(u.Hostname(), map[string]string{"Authorization": "Bearer " + token})
		}
	}
	return f
}
