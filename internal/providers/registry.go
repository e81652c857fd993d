package providers

import (
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Settings carries the credentials of every built-in provider.
type Settings struct {
	Telegram           TelegramConfig
	Meta               MetaConfig
	WHAPI              WHAPIConfig
	WhatsAppPreference string
	Metrics            *metrics.AgentMetrics
}

// NewDefaultFactory registers the Telegram, Meta and WHAPI providers.
func NewDefaultFactory(s Settings, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Default()
	}
	f := NewFactory(logger)

	f.Register(ChannelTelegram, NameTelegramBot, func() Provider {
		return Instrument(NewTelegramProvider(s.Telegram, logger), s.Metrics)
	})
	f.SetDefault(ChannelTelegram, NameTelegramBot)

	f.Register(ChannelWhatsApp, NameMeta, func() Provider {
		return Instrument(NewMetaProvider(s.Meta, logger), s.Metrics)
	})
	f.Register(ChannelWhatsApp, NameWHAPI, func() Provider {
		return Instrument(NewWHAPIProvider(s.WHAPI, logger), s.Metrics)
	})
	f.SetDefault(ChannelWhatsApp, NameMeta)
	f.SetPreference(ChannelWhatsApp, s.WhatsAppPreference)
	return f
}
