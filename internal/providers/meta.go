package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const defaultGraphAPIBase = "https://graph.facebook.com/v18.0"

// metaSendRequest is the Cloud API message payload.
type metaSendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *metaText     `json:"text,omitempty"`
	Template         *metaTemplate `json:"template,omitempty"`
}

type metaText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type metaTemplate struct {
	Name       string           `json:"name"`
	Language   metaLanguage     `json:"language"`
	Components []map[string]any `json:"components,omitempty"`
}

type metaLanguage struct {
	Code string `json:"code"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *metaError `json:"error,omitempty"`
}

type metaError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

// MetaProvider sends WhatsApp messages through Meta's Cloud API. URL
// buttons need approved templates there, so they are sent inline.
type MetaProvider struct {
	token         string
	phoneNumberID string
	graphAPIBase  string
	countryCode   string
	httpClient    *http.Client
	logger        *logging.Logger
}

// MetaConfig configures a MetaProvider.
type MetaConfig struct {
	Token         string
	PhoneNumberID string
	GraphAPIBase  string
	CountryCode   string
	HTTPClient    *http.Client
}

func NewMetaProvider(cfg MetaConfig, logger *logging.Logger) *MetaProvider {
	if logger == nil {
		logger = logging.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.GraphAPIBase), "/")
	if base == "" {
		base = defaultGraphAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	p := &MetaProvider{
		token:         strings.TrimSpace(cfg.Token),
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		graphAPIBase:  base,
		countryCode:   cfg.CountryCode,
		httpClient:    client,
		logger:        logger,
	}
	if !p.IsConfigured() {
		logger.Warn("meta whatsapp not configured", "provider", NameMeta)
	}
	return p
}

func (p *MetaProvider) Name() string { return NameMeta }

func (p *MetaProvider) IsConfigured() bool {
	return p.token != "" && p.phoneNumberID != ""
}

func (p *MetaProvider) SendText(ctx context.Context, recipient, text string) Result {
	return p.send(ctx, recipient, metaSendRequest{
		Type: "text",
		Text: &metaText{Body: text},
	})
}

func (p *MetaProvider) SendTextWithButton(ctx context.Context, recipient, text, label, url string) Result {
	return p.SendText(ctx, recipient, fmt.Sprintf("%s\n\n%s: %s", text, label, url))
}

func (p *MetaProvider) SendTemplate(ctx context.Context, recipient string, tpl Template) Result {
	if strings.TrimSpace(tpl.Name) == "" {
		return failure("template name is required")
	}
	lang := tpl.Language
	if lang == "" {
		lang = "es"
	}
	return p.send(ctx, recipient, metaSendRequest{
		Type: "template",
		Template: &metaTemplate{
			Name:       tpl.Name,
			Language:   metaLanguage{Code: lang},
			Components: tpl.Components,
		},
	})
}

func (p *MetaProvider) send(ctx context.Context, recipient string, req metaSendRequest) Result {
	if !p.IsConfigured() {
		return failure("Meta WhatsApp provider is not configured")
	}
	if !validPhone(recipient) {
		return failure("Invalid recipient phone number")
	}
	to := NormalizePhone(recipient, p.countryCode)

	ctx, span := tracer.Start(ctx, "providers.meta.send")
	defer span.End()
	span.SetAttributes(attribute.String("provider", NameMeta), attribute.String("message.type", req.Type))

	req.MessagingProduct = "whatsapp"
	req.RecipientType = "individual"
	req.To = to

	url := fmt.Sprintf("%s/%s/messages", p.graphAPIBase, p.phoneNumberID)
	data, err := postJSON(ctx, p.httpClient, url, p.token, req)

	var resp metaSendResponse
	if len(data) > 0 {
		_ = json.Unmarshal(data, &resp)
	}
	if resp.Error != nil {
		err = fmt.Errorf("API error %d: %s", resp.Error.Code, resp.Error.Message)
	} else if err == nil && len(resp.Messages) == 0 {
		err = errors.New("response carried no message id")
	}
	if err != nil {
		span.RecordError(err)
		p.logger.Error("meta whatsapp send failed", "provider", NameMeta, "address", to, "error", err)
		return failure(err.Error())
	}

	p.logger.Info("meta whatsapp message sent", "provider", NameMeta, "address", to, "message_id", resp.Messages[0].ID)
	return Result{Success: true, MessageID: resp.Messages[0].ID}
}
