package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestServiceDisabledWithoutRecipient(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, " ", logging.Discard())
	if svc.Enabled() {
		t.Fatal("expected service to be disabled")
	}
	svc.TicketCreated(context.Background(), TicketEvent{TicketID: "1"})
	if len(sender.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(sender.sent))
	}

	var nilSvc *Service
	nilSvc.ReceiptUploaded(context.Background(), ReceiptEvent{})
}

func TestTicketCreated(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "soporte@coop.pe", logging.Discard())
	svc.TicketCreated(context.Background(), TicketEvent{
		TicketID:    "77",
		PartnerName: "Ana Quispe",
		PartnerDoc:  "12345678",
		Channel:     "telegram",
		Address:     "555",
		Subject:     "Pago duplicado",
		Description: "Me cobraron dos veces",
		OccurredAt:  time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	})

	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "soporte@coop.pe" || msg.Subject != "Nuevo ticket #77: Pago duplicado" {
		t.Fatalf("unexpected message header: %+v", msg)
	}
	for _, want := range []string{"Ana Quispe (12345678)", "telegram (555)", "14/03/2025 09:30", "Me cobraron dos veces"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestReceiptUploadedSwallowsErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, "soporte@coop.pe", logging.Discard())
	svc.ReceiptUploaded(context.Background(), ReceiptEvent{ReceiptID: "R-9", Amount: 150.5, Confidence: 0.9, Method: "caption"})

	if len(sender.sent) != 1 {
		t.Fatalf("expected one attempt, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "S/ 150.50") || !strings.Contains(sender.sent[0].Body, "confianza 90%") {
		t.Fatalf("unexpected body:\n%s", sender.sent[0].Body)
	}
}
