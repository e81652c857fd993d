// Package notify e-mails the support team about tickets and payment
// receipts raised through the chat channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// TicketEvent describes a support ticket opened from a conversation.
type TicketEvent struct {
	TicketID    string
	PartnerName string
	PartnerDoc  string
	Channel     string
	Address     string
	Subject     string
	Description string
	OccurredAt  time.Time
}

// ReceiptEvent describes a payment receipt uploaded from a conversation.
type ReceiptEvent struct {
	ReceiptID   string
	PartnerName string
	PartnerDoc  string
	Channel     string
	Address     string
	Amount      float64
	PaymentDate string
	Method      string
	Confidence  float64
	OccurredAt  time.Time
}

// Service sends best-effort notifications to the support mailbox. Send
// failures are logged and never returned.
type Service struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewService returns a Service. A nil sender or empty recipient disables it.
func NewService(email EmailSender, to string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, to: strings.TrimSpace(to), logger: logger}
}

// Enabled reports whether notifications will be sent.
func (s *Service) Enabled() bool {
	return s != nil && s.email != nil && s.to != ""
}

// TicketCreated notifies support about a new ticket.
func (s *Service) TicketCreated(ctx context.Context, evt TicketEvent) {
	if !s.Enabled() {
		return
	}
	subject := fmt.Sprintf("Nuevo ticket #%s: %s", evt.TicketID, evt.Subject)
	body := fmt.Sprintf(`Se creó un ticket de soporte desde el asistente virtual.

Ticket: #%s
Socio: %s (%s)
Canal: %s (%s)
Fecha: %s

Asunto: %s

%s
`, evt.TicketID, evt.PartnerName, evt.PartnerDoc, evt.Channel, evt.Address,
		stamp(evt.OccurredAt), evt.Subject, evt.Description)

	s.send(ctx, subject, body, "ticket_id", evt.TicketID)
}

// ReceiptUploaded notifies support about a receipt waiting for review.
func (s *Service) ReceiptUploaded(ctx context.Context, evt ReceiptEvent) {
	if !s.Enabled() {
		return
	}
	subject := fmt.Sprintf("Boleta de pago #%s pendiente de revisión", evt.ReceiptID)
	body := fmt.Sprintf(`Se recibió una boleta de pago desde el asistente virtual.

Recibo: #%s
Socio: %s (%s)
Canal: %s (%s)
Monto: S/ %.2f
Fecha de pago: %s
Extracción: %s (confianza %.0f%%)
Recibido: %s
`, evt.ReceiptID, evt.PartnerName, evt.PartnerDoc, evt.Channel, evt.Address,
		evt.Amount, evt.PaymentDate, evt.Method, evt.Confidence*100, stamp(evt.OccurredAt))

	s.send(ctx, subject, body, "receipt_id", evt.ReceiptID)
}

func (s *Service) send(ctx context.Context, subject, body string, idKey, id string) {
	if err := s.email.Send(ctx, EmailMessage{To: s.to, Subject: subject, Body: body}); err != nil {
		s.logger.Warn("notify: support email failed", "error", err, idKey, id)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("02/01/2006 15:04")
}
