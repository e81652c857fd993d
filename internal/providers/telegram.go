package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// TelegramConfig configures a TelegramProvider.
type TelegramConfig struct {
	Token string
	// Endpoint is the Bot API format string, tgbotapi.APIEndpoint by default.
	Endpoint   string
	HTTPClient *http.Client
	// ParseMode defaults to HTML.
	ParseMode string
}

// TelegramProvider sends messages through the Bot API with one long-lived
// bot client.
type TelegramProvider struct {
	bot       *tgbotapi.BotAPI
	parseMode string
	logger    *logging.Logger
}

func NewTelegramProvider(cfg TelegramConfig, logger *logging.Logger) *TelegramProvider {
	if logger == nil {
		logger = logging.Default()
	}
	p := &TelegramProvider{parseMode: cfg.ParseMode, logger: logger}
	if p.parseMode == "" {
		p.parseMode = tgbotapi.ModeHTML
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		logger.Warn("telegram credentials not configured", "provider", NameTelegramBot)
		return p
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	// Built without the getMe round trip so startup never depends on Telegram.
	bot := &tgbotapi.BotAPI{Token: token, Client: client, Buffer: 100}
	bot.SetAPIEndpoint(endpoint)
	p.bot = bot
	return p
}

// Bot exposes the underlying client for the webhook adapter.
func (p *TelegramProvider) Bot() *tgbotapi.BotAPI { return p.bot }

func (p *TelegramProvider) Name() string { return NameTelegramBot }

func (p *TelegramProvider) IsConfigured() bool { return p.bot != nil }

func (p *TelegramProvider) SendText(ctx context.Context, recipient, text string) Result {
	return p.send(ctx, recipient, text, nil)
}

func (p *TelegramProvider) SendTextWithButton(ctx context.Context, recipient, text, label, url string) Result {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, url)),
	)
	return p.send(ctx, recipient, text, &markup)
}

func (p *TelegramProvider) SendTemplate(context.Context, string, Template) Result {
	return failure("Telegram provider does not support template messages")
}

func (p *TelegramProvider) send(ctx context.Context, recipient, text string, markup *tgbotapi.InlineKeyboardMarkup) Result {
	if !p.IsConfigured() {
		return failure("Telegram provider is not configured")
	}
	chat := NormalizeTelegramRecipient(recipient)
	if chat == "" || chat == "@" {
		return failure("Invalid recipient ID")
	}
	if err := ctx.Err(); err != nil {
		return failure(err.Error())
	}

	_, span := tracer.Start(ctx, "providers.telegram.send")
	defer span.End()
	span.SetAttributes(attribute.String("provider", NameTelegramBot))

	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(chat, "@") {
		msg = tgbotapi.NewMessageToChannel(chat, text)
	} else {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return failure("Invalid recipient ID")
		}
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = p.parseMode
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	sent, err := p.bot.Send(msg)
	if err != nil && isEntityParseError(err) {
		p.logger.Warn("telegram rejected formatting, resending as plain text", "provider", NameTelegramBot, "address", chat, "error", err)
		msg.ParseMode = ""
		sent, err = p.bot.Send(msg)
	}
	if err != nil {
		span.RecordError(err)
		p.logger.Error("telegram send failed", "provider", NameTelegramBot, "address", chat, "error", err)
		return failure(err.Error())
	}

	id := strconv.Itoa(sent.MessageID)
	p.logger.Info("telegram message sent", "provider", NameTelegramBot, "address", chat, "message_id", id)
	return Result{Success: true, MessageID: id}
}

func isEntityParseError(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
	}
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}
