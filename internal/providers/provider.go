// Package providers delivers outbound chat messages through vendor APIs.
//
// Vendor failures are reported in Result and never as Go errors, so callers
// can log the outcome and keep the conversation state intact.
package providers

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
)

// Channel names used by the factory.
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
)

// Provider names.
const (
	NameTelegramBot = "telegram_bot"
	NameMeta        = "meta"
	NameWHAPI       = "whapi"
)

// DefaultCountryCode is prefixed to 9-digit local numbers.
const DefaultCountryCode = "51"

// Result is the outcome of one send.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func failure(msg string) Result { return Result{Error: msg} }

// Template is a pre-approved vendor template.
type Template struct {
	Name       string
	Language   string
	Components []map[string]any
}

// Provider sends messages on one vendor API.
type Provider interface {
	Name() string
	IsConfigured() bool
	SendText(ctx context.Context, recipient, text string) Result
	SendTextWithButton(ctx context.Context, recipient, text, label, url string) Result
	SendTemplate(ctx context.Context, recipient string, tpl Template) Result
}

// Info describes a registered provider.
type Info struct {
	Channel    string `json:"channel"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone keeps digits and prefixes countryCode to 9-digit local
// numbers.
func NormalizePhone(s, countryCode string) string {
	digits := DigitsOnly(s)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if len(digits) == 9 {
		return countryCode + digits
	}
	return digits
}

// validPhone requires at least 9 digits.
func validPhone(s string) bool {
	return len(DigitsOnly(s)) >= 9
}

// NormalizeTelegramRecipient keeps @usernames and reduces anything else to
// a numeric chat id. Negative group ids keep their sign.
func NormalizeTelegramRecipient(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		return s
	}
	digits := DigitsOnly(s)
	if strings.HasPrefix(s, "-") && digits != "" {
		return "-" + digits
	}
	return digits
}

func blank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}

// Instrumented reports every send of the wrapped provider to m.
type Instrumented struct {
	Provider
	m *metrics.AgentMetrics
}

// Instrument wraps p so that sends are counted and timed.
func Instrument(p Provider, m *metrics.AgentMetrics) Provider {
	if p == nil || m == nil {
		return p
	}
	return &Instrumented{Provider: p, m: m}
}

func (i *Instrumented) observe(start time.Time, res Result) Result {
	i.m.ObserveSend(i.Provider.Name(), res.Success, time.Since(start).Seconds())
	return res
}

func (i *Instrumented) SendText(ctx context.Context, recipient, text string) Result {
	start := time.Now()
	return i.observe(start, i.Provider.SendText(ctx, recipient, text))
}

func (i *Instrumented) SendTextWithButton(ctx context.Context, recipient, text, label, url string) Result {
	start := time.Now()
	return i.observe(start, i.Provider.SendTextWithButton(ctx, recipient, text, label, url))
}

func (i *Instrumented) SendTemplate(ctx context.Context, recipient string, tpl Template) Result {
	start := time.Now()
	return i.observe(start, i.Provider.SendTemplate(ctx, recipient, tpl))
}
