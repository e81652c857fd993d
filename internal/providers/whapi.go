package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	defaultWHAPIBaseURL = "https://gate.whapi.cloud"
	presenceTimeout     = 10 * time.Second
)

// WHAPIConfig configures a WHAPIProvider.
type WHAPIConfig struct {
	Token       string
	BaseURL     string
	CountryCode string
	HTTPClient  *http.Client
	// Limiter is consulted under the "whapi" key before every send.
	Limiter ratelimit.Limiter
	// Pacer adds the human-like pause after the typing signal.
	Pacer *ratelimit.Pacer
}

// WHAPIProvider sends WhatsApp messages through WHAPI.cloud. Every send
// shows a typing indicator, pauses, waits for a rate-limit slot and then
// posts the message.
type WHAPIProvider struct {
	token       string
	baseURL     string
	countryCode string
	httpClient  *http.Client
	limiter     ratelimit.Limiter
	pacer       *ratelimit.Pacer
	logger      *logging.Logger
}

func NewWHAPIProvider(cfg WHAPIConfig, logger *logging.Logger) *WHAPIProvider {
	if logger == nil {
		logger = logging.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultWHAPIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	p := &WHAPIProvider{
		token:       strings.TrimSpace(cfg.Token),
		baseURL:     base,
		countryCode: cfg.CountryCode,
		httpClient:  client,
		limiter:     limiter,
		pacer:       cfg.Pacer,
		logger:      logger,
	}
	if !p.IsConfigured() {
		logger.Warn("whapi not configured", "provider", NameWHAPI)
	}
	return p
}

func (p *WHAPIProvider) Name() string { return NameWHAPI }

func (p *WHAPIProvider) IsConfigured() bool { return p.token != "" }

// ChatID formats a phone number as a WHAPI chat id.
func (p *WHAPIProvider) ChatID(phone string) string {
	return NormalizePhone(phone, p.countryCode) + "@s.whatsapp.net"
}

func (p *WHAPIProvider) SendText(ctx context.Context, recipient, text string) Result {
	return p.send(ctx, recipient, "/messages/text", func(to string) any {
		return map[string]string{"to": to, "body": text}
	})
}

func (p *WHAPIProvider) SendTextWithButton(ctx context.Context, recipient, text, label, url string) Result {
	if strings.HasPrefix(url, "http://") {
		url = "https://" + strings.TrimPrefix(url, "http://")
		p.logger.Warn("converted button link to https", "provider", NameWHAPI, "url", url)
	}
	return p.send(ctx, recipient, "/messages/interactive", func(to string) any {
		return map[string]any{
			"to":   to,
			"type": "button",
			"body": map[string]string{"text": text},
			"action": map[string]any{
				"buttons": []map[string]string{{
					"type":  "url",
					"title": label,
					"id":    "url_button",
					"url":   url,
				}},
			},
		}
	})
}

func (p *WHAPIProvider) SendTemplate(context.Context, string, Template) Result {
	return failure("WHAPI provider does not support template messages")
}

func (p *WHAPIProvider) send(ctx context.Context, recipient, path string, payload func(to string) any) Result {
	if !p.IsConfigured() {
		return failure("WHAPI provider is not configured")
	}
	if !validPhone(recipient) {
		return failure("Invalid recipient phone number")
	}
	to := p.ChatID(recipient)

	ctx, span := tracer.Start(ctx, "providers.whapi.send")
	defer span.End()
	span.SetAttributes(attribute.String("provider", NameWHAPI), attribute.String("whapi.path", path))

	p.sendTyping(ctx, to)

	if _, err := p.pacer.Pause(ctx); err != nil {
		span.RecordError(err)
		return failure(fmt.Sprintf("pacing interrupted: %v", err))
	}
	if err := p.limiter.Wait(ctx, NameWHAPI); err != nil {
		span.RecordError(err)
		p.logger.Warn("whapi rate limit wait failed", "provider", NameWHAPI, "address", to, "error", err)
		return failure(fmt.Sprintf("rate limited: %v", err))
	}

	data, err := postJSON(ctx, p.httpClient, p.baseURL+path, p.token, payload(to))
	if err != nil {
		span.RecordError(err)
		p.logger.Error("whapi send failed", "provider", NameWHAPI, "address", to, "error", err)
		return failure(err.Error())
	}

	id := whapiMessageID(data)
	p.logger.Info("whapi message sent", "provider", NameWHAPI, "address", to, "message_id", id)
	return Result{Success: true, MessageID: id}
}

// sendTyping shows the typing indicator. Failures are only logged.
func (p *WHAPIProvider) sendTyping(ctx context.Context, to string) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	client := *p.httpClient
	client.Timeout = presenceTimeout
	if _, err := postJSON(ctx, &client, p.baseURL+"/messages/presence", p.token,
		map[string]string{"to": to, "state": "typing"}); err != nil {
		p.logger.Warn("whapi typing indicator failed", "provider", NameWHAPI, "address", to, "error", err)
	}
}

func whapiMessageID(data []byte) string {
	var resp struct {
		ID      string `json:"id"`
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return ""
	}
	if resp.Message.ID != "" {
		return resp.Message.ID
	}
	return resp.ID
}
