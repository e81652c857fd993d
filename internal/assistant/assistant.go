// Package assistant implements the AI fallback operations: intent
// classification, open questions and receipt field extraction.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/llm"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// ErrUnavailable is returned when no AI backend is configured.
var ErrUnavailable = errors.New("assistant: ai backend unavailable")

var assistantTracer = otel.Tracer("coop.internal.assistant")

const defaultTimeout = 20 * time.Second

const systemPrompt = `Eres un asistente virtual de una cooperativa de ahorro y crédito en Perú.
Tu objetivo es ayudar a los socios con consultas sobre préstamos, pagos y su cuenta.

Instrucciones:
- Responde siempre en español
- Sé claro, conciso y amable
- Si no tienes información suficiente, solicítala educadamente
- Usa formato markdown para mejor legibilidad
- No inventes información, usa solo los datos proporcionados

Información disponible:`

const intentPrompt = `Analiza el siguiente mensaje de un socio de una cooperativa y clasifica su intención.

Intenciones posibles:
- PARTNER_DETAIL: Consultar datos personales
- ACCOUNT_STATEMENT: Ver estado de cuenta o deuda
- LIST_CREDITS: Ver lista de préstamos
- CREDIT_DETAIL: Ver detalle de un préstamo específico
- CREATE_TICKET: Reportar problema o solicitar soporte
- UPLOAD_RECEIPT: Cargar comprobante de pago
- HELP: Solicitar ayuda
- UNKNOWN: No se puede clasificar

Mensaje: "%s"

Clasifica la intención y proporciona un nivel de confianza entre 0.0 y 1.0.`

var intentSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"intent":     {Type: "string", Enum: intent.Names()},
		"confidence": {Type: "number"},
		"entities": {
			Type: "object",
			Properties: map[string]*llm.Schema{
				"loan_id":        {Type: "string"},
				"amount":         {Type: "string"},
				"date":           {Type: "string"},
				"ticket_subject": {Type: "string"},
			},
		},
	},
	Required: []string{"intent", "confidence", "entities"},
}

// Service runs the AI fallback operations on an LLM client. A Service with a
// nil client is valid and reports ErrUnavailable.
type Service struct {
	client  llm.LLMClient
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every AI call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the clock used for default receipt dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service. client may be nil.
func New(client llm.LLMClient, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		client:  client,
		timeout: defaultTimeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether an AI backend is configured.
func (s *Service) Available() bool {
	return s != nil && s.client != nil
}

// ClassifyIntent asks the model for the intent of text.
func (s *Service) ClassifyIntent(ctx context.Context, text string) (intent.Classification, error) {
	if !s.Available() {
		return intent.Classification{Intent: string(intent.Unknown)}, ErrUnavailable
	}
	ctx, span := assistantTracer.Start(ctx, "assistant.classify_intent")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, llm.LLMRequest{
		Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: fmt.Sprintf(intentPrompt, text)}},
		MaxTokens:   256,
		Temperature: 0,
		JSON:        true,
		Schema:      intentSchema,
	})
	if err != nil {
		span.RecordError(err)
		return intent.Classification{Intent: string(intent.Unknown)}, fmt.Errorf("assistant: classify intent: %w", err)
	}

	var decoded struct {
		Intent     string         `json:"intent"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &decoded); err != nil {
		return intent.Classification{Intent: string(intent.Unknown)}, fmt.Errorf("assistant: decode intent: %w", err)
	}

	entities := make(map[string]string, len(decoded.Entities))
	for k, v := range decoded.Entities {
		if v == nil {
			continue
		}
		if str := strings.TrimSpace(fmt.Sprint(v)); str != "" {
			entities[k] = str
		}
	}
	span.SetAttributes(
		attribute.String("intent", decoded.Intent),
		attribute.Float64("confidence", decoded.Confidence),
	)
	return intent.Classification{
		Intent:     decoded.Intent,
		Confidence: decoded.Confidence,
		Entities:   entities,
	}, nil
}

// QueryContext is the partner data injected into open-question prompts.
type QueryContext struct {
	Partner *partners.Partner
	Summary *partners.StatementSummary
	// Extra holds additional labelled facts, rendered in key order.
	Extra map[string]string
}

// AnswerQuery answers an open question about the partner's account.
func (s *Service) AnswerQuery(ctx context.Context, query string, qc QueryContext) (string, error) {
	if !s.Available() {
		return "", ErrUnavailable
	}
	ctx, span := assistantTracer.Start(ctx, "assistant.answer_query")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, llm.LLMRequest{
		System:      []string{BuildQueryPrompt(qc)},
		Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: "Consulta del socio: " + query}},
		MaxTokens:   800,
		Temperature: 0.3,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: answer query: %w", err)
	}
	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return "", fmt.Errorf("assistant: answer query: empty answer")
	}
	return answer, nil
}

// BuildQueryPrompt renders the system prompt with the partner context.
func BuildQueryPrompt(qc QueryContext) string {
	sections := []string{systemPrompt}

	if p := qc.Partner; p != nil {
		lines := []string{"Socio:"}
		for _, f := range [][2]string{
			{"Nombre", p.DisplayName()},
			{"Documento", p.DocumentNumber},
			{"Teléfono", p.Phone},
			{"Email", p.Email},
		} {
			if v := strings.TrimSpace(f[1]); v != "" && v != "N/A" {
				lines = append(lines, "- "+f[0]+": "+v)
			}
		}
		if len(lines) > 1 {
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}

	if sum := qc.Summary; sum != nil {
		lines := []string{
			"Resumen de cuenta:",
			fmt.Sprintf("- Créditos activos: %d", sum.ActiveCreditsCount),
			"- Saldo pendiente: " + format.Money(sum.TotalOutstanding.Float()),
		}
		if sum.TotalCredits > 0 {
			lines = append(lines, fmt.Sprintf("- Total de créditos: %d", sum.TotalCredits))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	for _, key := range sortedKeys(qc.Extra) {
		if v := strings.TrimSpace(qc.Extra[key]); v != "" {
			sections = append(sections, key+": "+v)
		}
	}
	return strings.Join(sections, "\n\n")
}

// extractJSON trims code fences and surrounding prose from a model answer.
func extractJSON(text string) string {
	content := llm.StripCodeFence(text)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
