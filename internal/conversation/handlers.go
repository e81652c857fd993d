package conversation

import (
	"context"
	"strings"

	"github.com/wolfman30/coop-chat-agent/internal/assistant"
	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/notify"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

func (e *Engine) greeting(c *Conversation) string {
	name := ""
	if c.Partner != nil {
		name = c.Partner.DisplayFirstName()
	}
	return format.Greeting(name)
}

func (e *Engine) partnerDetail(c *Conversation) string {
	if c.Partner == nil {
		return format.Error(format.NoPartnerInfo)
	}
	return format.PartnerInfo(*c.Partner)
}

func (e *Engine) accountStatement(ctx context.Context, c *Conversation, logger *logging.Logger) string {
	if c.Partner == nil {
		return format.Error(format.NoPartnerInfo)
	}
	st, err := e.directory.AccountStatement(ctx, c.Partner.ID)
	if err != nil {
		logger.Error("account statement failed", "partner_id", c.Partner.ID, "error", err)
		return format.Error(format.AccountStatementError)
	}
	return format.AccountStatement(*st)
}

func (e *Engine) listCredits(ctx context.Context, c *Conversation, logger *logging.Logger) string {
	if c.Partner == nil {
		return format.Error(format.NoPartnerInfo)
	}
	list, err := e.directory.Credits(ctx, c.Partner.ID, "")
	if err != nil {
		logger.Error("credit list failed", "partner_id", c.Partner.ID, "error", err)
		return format.Error(format.CreditsListError)
	}
	return format.CreditList(list.Credits)
}

// creditDetail asks for the credit number when the message carries none and
// keeps asking until it does. A failed lookup leaves the question open.
func (e *Engine) creditDetail(ctx context.Context, c *Conversation, text string, logger *logging.Logger) string {
	if c.Partner == nil {
		return format.Error(format.NoPartnerInfo)
	}
	creditID, ok := intent.ExtractCreditID(text)
	if !ok {
		c.Context.Pending = CreditDetailAction{}
		return format.CreditDetailRequest
	}
	detail, err := e.directory.CreditDetail(ctx, c.Partner.ID, creditID)
	if err != nil {
		logger.Error("credit detail failed", "partner_id", c.Partner.ID, "credit_id", creditID, "error", err)
		return format.Error(format.CreditDetailError)
	}
	c.Context.Pending = nil
	return format.CreditDetail(*detail)
}

// createTicket walks start, subject and description. The ticket is only
// opened once the description arrives.
func (e *Engine) createTicket(ctx context.Context, c *Conversation, in Inbound, logger *logging.Logger) string {
	if c.Partner == nil {
		c.Context.Pending = nil
		return format.Error(format.NoPartnerInfo)
	}

	action, inFlow := c.Context.Pending.(CreateTicketAction)
	if !inFlow || in.Forced != "" {
		c.Context.Pending = CreateTicketAction{Step: TicketStepSubject}
		return format.TicketStart
	}

	text := strings.TrimSpace(in.Text)
	switch action.Step {
	case TicketStepSubject:
		if text == "" {
			return format.TicketEmptyField
		}
		c.Context.Pending = CreateTicketAction{Step: TicketStepDescription, Subject: text}
		return format.TicketDescription

	case TicketStepDescription:
		if text == "" {
			return format.TicketEmptyField
		}
		subject := action.Subject
		if blank(subject) {
			subject = defaultTicketSubject
		}
		ticket, err := e.directory.CreateTicket(ctx, partners.TicketRequest{
			PartnerDocument: c.Partner.DocumentNumber,
			Subject:         subject,
			Description:     text,
			Priority:        ticketPriority,
		})
		if err != nil {
			logger.Error("ticket creation failed", "partner_id", c.Partner.ID, "error", err)
			return format.Error(format.TicketError)
		}
		c.Context.Pending = nil
		logger.Info("ticket created", "partner_id", c.Partner.ID, "ticket_id", ticket.ID.String())
		if e.notifier != nil {
			e.notifier.TicketCreated(ctx, notify.TicketEvent{
				TicketID:    ticket.ID.String(),
				PartnerName: c.Partner.DisplayName(),
				PartnerDoc:  c.Partner.DocumentNumber,
				Channel:     in.Channel,
				Address:     in.Address,
				Subject:     subject,
				Description: text,
				OccurredAt:  e.now(),
			})
		}
		return format.TicketCreated(ticket.ID.String())
	}

	c.Context.Pending = nil
	return format.Error(format.TicketFlowError)
}

func (e *Engine) unknown(ctx context.Context, c *Conversation, text string, logger *logging.Logger) string {
	logger.Info("no intent matched", "text_length", len(text))
	if !e.answerUnknown || e.answerer == nil || c.Partner == nil || blank(text) {
		return format.Menu
	}

	qc := assistant.QueryContext{Partner: c.Partner}
	if e.directory == nil {
		logger.Warn("answering without account summary")
	} else if st, err := e.directory.AccountStatement(ctx, c.Partner.ID); err == nil {
		qc.Summary = &st.Summary
	} else {
		logger.Warn("answering without account summary", "error", err)
	}
	answer, err := e.answerer.AnswerQuery(ctx, text, qc)
	if err != nil || blank(answer) {
		logger.Warn("ai answer unavailable, showing menu", "error", err)
		return format.Menu
	}
	return answer
}
