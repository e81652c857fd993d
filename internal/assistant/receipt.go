package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/internal/llm"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
)

// Extraction methods reported in ReceiptFields.Method.
const (
	MethodCaption        = "caption"
	MethodAIOCR          = "ai_ocr"
	MethodHybrid         = "caption+ai_ocr"
	MethodFallbackError  = "fallback_error"
	MethodJSONParseError = "json_parse_error"
)

// DefaultReceiptAmount is used when no amount can be read from a receipt.
const DefaultReceiptAmount = 1.00

const (
	minReceiptAmount = 0.01
	maxReceiptAmount = 999999.99
)

// ReceiptFields is the outcome of reading a payment receipt. Amount and Date
// are always populated.
type ReceiptFields struct {
	Amount     float64
	Date       string
	DocumentID string
	Confidence float64
	Method     string
	Notes      string
	// AmountFromCaption is set when the amount was typed by the user.
	AmountFromCaption bool
}

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:monto|pago|importe|cantidad)\s*:?\s*(\d+[.,]?\d*)`),
		regexp.MustCompile(`(\d+[.,]\d{1,2})\s*(?:soles?|nuevos soles|s/)`),
		regexp.MustCompile(`s/\.?\s*(\d+[.,]\d{1,2})`),
		regexp.MustCompile(`total\s*:?\s*(\d+[.,]\d{1,2})`),
		regexp.MustCompile(`(\d+[.,]\d{1,2})`),
	}
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:fecha|date)\s*:?\s*(\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`(?:fecha|date)\s*:?\s*(\d{2}[/-]\d{2}[/-]\d{4})`),
		regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`(\d{2}[/-]\d{2}[/-]\d{4})`),
	}
	dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "01/02/2006", "01-02-2006"}
)

// CaptionAmount reads a payment amount from a free-text caption.
func CaptionAmount(caption string) (float64, bool) {
	text := strings.ToLower(strings.TrimSpace(caption))
	if text == "" {
		return 0, false
	}
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		if v >= minReceiptAmount && v <= maxReceiptAmount {
			return v, true
		}
	}
	return 0, false
}

// CaptionDate reads a payment date from a caption and returns it as
// YYYY-MM-DD.
func CaptionDate(caption string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(caption))
	if text == "" {
		return "", false
	}
	for _, re := range datePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if d, ok := NormalizeDate(m[1]); ok {
			return d, true
		}
	}
	return "", false
}

// NormalizeDate parses the supported receipt date layouts, day first.
func NormalizeDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

const receiptPrompt = `Analiza esta imagen de un comprobante de pago o voucher bancario peruano y extrae la siguiente información:

1. MONTO: El importe pagado en soles (busca "S/", "PEN", "Soles", "Importe", "Monto", "Total")
2. FECHA: La fecha de la transacción (formato YYYY-MM-DD)
3. NÚMERO DE OPERACIÓN: Número de operación o referencia, si existe

Reglas:
- Si no encuentras el monto, usa null
- Si no encuentras la fecha, usa la fecha de hoy: %s
- confidence es un número entre 0.0 y 1.0 según la legibilidad del comprobante
- En notes describe brevemente el tipo de comprobante o cualquier observación`

var receiptSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"amount":            {Type: "number", Description: "monto pagado en soles"},
		"date":              {Type: "string", Description: "fecha YYYY-MM-DD"},
		"document_id":       {Type: "string"},
		"confidence":        {Type: "number"},
		"extraction_method": {Type: "string"},
		"notes":             {Type: "string"},
	},
	Required: []string{"amount", "date", "confidence", "extraction_method"},
}

type ocrResult struct {
	Amount     *partners.Amount `json:"amount"`
	Date       string           `json:"date"`
	DocumentID string           `json:"document_id"`
	Confidence float64          `json:"confidence"`
	Notes      string           `json:"notes"`
}

// ExtractReceiptFields reads the amount and date of a payment receipt. The
// caption is authoritative for any field it contains. Missing fields are
// read from the image by the AI backend, and anything still missing falls
// back to DefaultReceiptAmount and today's date. It never fails.
func (s *Service) ExtractReceiptFields(ctx context.Context, caption string, image []byte, mimeType string) ReceiptFields {
	today := s.now().Format("2006-01-02")
	capAmount, hasAmount := CaptionAmount(caption)
	capDate, hasDate := CaptionDate(caption)

	if hasAmount && hasDate {
		return ReceiptFields{
			Amount:            capAmount,
			Date:              capDate,
			Confidence:        0.9,
			Method:            MethodCaption,
			AmountFromCaption: true,
		}
	}

	ocr, method, note := s.readReceiptImage(ctx, image, mimeType, today)

	out := ReceiptFields{Date: today, Method: method, Notes: note}
	if ocr != nil {
		out.DocumentID = ocr.DocumentID
		out.Confidence = clamp01(ocr.Confidence)
		if ocr.Amount != nil {
			if v := ocr.Amount.Float(); v >= minReceiptAmount && v <= maxReceiptAmount {
				out.Amount = v
			}
		}
		if d, ok := NormalizeDate(ocr.Date); ok {
			out.Date = d
		}
	}

	switch {
	case hasAmount:
		out.Amount = capAmount
		out.AmountFromCaption = true
	case out.Amount == 0:
		out.Amount = DefaultReceiptAmount
		out.Confidence = 0
	}
	if hasDate {
		out.Date = capDate
	}

	if hasAmount || hasDate {
		if ocr != nil {
			out.Method = MethodHybrid
		} else {
			out.Method = MethodCaption
			out.Confidence = 0.6
		}
	}
	return out
}

// readReceiptImage runs AI OCR. A nil result is returned with the failure
// method and a note when the backend cannot read the image.
func (s *Service) readReceiptImage(ctx context.Context, image []byte, mimeType, today string) (*ocrResult, string, string) {
	if !s.Available() {
		return nil, MethodFallbackError, "IA no disponible"
	}
	if len(image) == 0 {
		return nil, MethodFallbackError, "Imagen vacía"
	}

	ctx, span := assistantTracer.Start(ctx, "assistant.extract_receipt")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, llm.LLMRequest{
		Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: fmt.Sprintf(receiptPrompt, today)}},
		MaxTokens:   512,
		Temperature: 0,
		JSON:        true,
		Schema:      receiptSchema,
		Images:      []llm.Image{{MIMEType: mimeType, Data: image}},
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("receipt ocr failed", "error", err)
		return nil, MethodFallbackError, "Error de IA: " + err.Error()
	}

	var res ocrResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &res); err != nil {
		s.logger.Warn("receipt ocr returned invalid json", "error", err)
		return nil, MethodJSONParseError, "Respuesta de IA no válida"
	}
	span.SetAttributes(attribute.Float64("confidence", res.Confidence))
	return &res, MethodAIOCR, strings.TrimSpace(res.Notes)
}

// BuildReceiptNotes joins the caption, the extraction summary and the
// channel into the notes stored with an uploaded receipt.
func BuildReceiptNotes(caption string, fields ReceiptFields, channel string) string {
	var parts []string
	if c := strings.TrimSpace(caption); c != "" {
		parts = append(parts, "Caption: "+c)
	}
	switch fields.Method {
	case MethodCaption:
		parts = append(parts, "Datos tomados del mensaje")
	case MethodAIOCR, MethodHybrid:
		parts = append(parts, fmt.Sprintf("Datos extraídos por IA (confianza %.0f%%)", fields.Confidence*100))
	default:
		parts = append(parts, "Extracción automática no disponible")
	}
	if n := strings.TrimSpace(fields.Notes); n != "" {
		parts = append(parts, n)
	}
	if fields.DocumentID != "" {
		parts = append(parts, "Operación: "+fields.DocumentID)
	}
	if channel != "" {
		parts = append(parts, "Subido via "+channel)
	}
	return strings.Join(parts, " | ")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
