// Package conversation holds the per-chat state machine: it persists every
// message, gates access behind partner authentication, continues multi-step
// flows and routes everything else through intent detection.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation: not found")

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusPendingAuth   Status = "PENDING_AUTH"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusActive        Status = "ACTIVE"
	StatusClosed        Status = "CLOSED"
	StatusBlocked       Status = "BLOCKED"
)

// ParseStatus validates an externally supplied status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPendingAuth, StatusAuthenticated, StatusActive, StatusClosed, StatusBlocked:
		return st, true
	}
	return "", false
}

// Role identifies who wrote a message.
type Role string

const (
	RoleUser   Role = "USER"
	RoleAgent  Role = "AGENT"
	RoleSystem Role = "SYSTEM"
)

// Key identifies a conversation: one row per channel and address.
type Key struct {
	Channel string
	Address string
}

func (k Key) String() string { return k.Channel + ":" + k.Address }

// Conversation is the persisted state of one chat.
type Conversation struct {
	ID              int64
	Channel         string
	Address         string
	Partner         *partners.Partner
	Authenticated   bool
	Status          Status
	LastInteraction time.Time
	Context         Context
	CreatedAt       time.Time
}

// Key returns the conversation identity.
func (c *Conversation) Key() Key { return Key{Channel: c.Channel, Address: c.Address} }

// Clone returns a deep copy so callers can mutate without aliasing the store.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Partner != nil {
		p := *c.Partner
		out.Partner = &p
	}
	if c.Context.LockedUntil != nil {
		t := *c.Context.LockedUntil
		out.Context.LockedUntil = &t
	}
	return &out
}

// Message is one entry of the append-only conversation log.
type Message struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversation_id"`
	Role           Role              `json:"role"`
	Body           string            `json:"body"`
	Intent         intent.Type       `json:"intent,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Context is the free-form state kept on the conversation row.
type Context struct {
	Pending      PendingAction
	AuthFailures int
	LockedUntil  *time.Time
}

// Locked reports whether authentication attempts are currently refused.
func (c Context) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// PendingAction is a multi-step flow waiting for the user's next message.
// The variants are CreateTicketAction and CreditDetailAction; nil means none.
type PendingAction interface {
	Kind() string
	Intent() intent.Type
}

// TicketStep is the field a ticket flow is waiting for.
type TicketStep string

const (
	TicketStepSubject     TicketStep = "subject"
	TicketStepDescription TicketStep = "description"
)

const (
	kindCreateTicket = "create_ticket"
	kindCreditDetail = "credit_detail"
)

// CreateTicketAction collects a ticket subject and then its description.
type CreateTicketAction struct {
	Step    TicketStep `json:"step"`
	Subject string     `json:"subject,omitempty"`
}

func (CreateTicketAction) Kind() string        { return kindCreateTicket }
func (CreateTicketAction) Intent() intent.Type { return intent.CreateTicket }

// CreditDetailAction waits for the number of the credit to show.
type CreditDetailAction struct{}

func (CreditDetailAction) Kind() string        { return kindCreditDetail }
func (CreditDetailAction) Intent() intent.Type { return intent.CreditDetail }

type contextJSON struct {
	Pending      json.RawMessage `json:"pending_action,omitempty"`
	AuthFailures int             `json:"auth_failures,omitempty"`
	LockedUntil  *time.Time      `json:"locked_until,omitempty"`
}

func (c Context) MarshalJSON() ([]byte, error) {
	out := contextJSON{AuthFailures: c.AuthFailures, LockedUntil: c.LockedUntil}
	if c.Pending != nil {
		raw, err := encodePending(c.Pending)
		if err != nil {
			return nil, err
		}
		out.Pending = raw
	}
	return json.Marshal(out)
}

func (c *Context) UnmarshalJSON(data []byte) error {
	var in contextJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("conversation: decode context: %w", err)
	}
	pending, err := decodePending(in.Pending)
	if err != nil {
		return err
	}
	*c = Context{Pending: pending, AuthFailures: in.AuthFailures, LockedUntil: in.LockedUntil}
	return nil
}

func encodePending(p PendingAction) (json.RawMessage, error) {
	switch v := p.(type) {
	case CreateTicketAction:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			CreateTicketAction
		}{v.Kind(), v})
	case *CreateTicketAction:
		return encodePending(*v)
	case CreditDetailAction, *CreditDetailAction:
		return json.Marshal(struct {
			Kind string `json:"kind"`
		}{kindCreditDetail})
	default:
		return nil, fmt.Errorf("conversation: unknown pending action %T", p)
	}
}

// decodePending returns nil for an absent action. Unknown kinds are dropped
// so a stale row never traps the user in a flow that no longer exists.
func decodePending(raw json.RawMessage) (PendingAction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("conversation: decode pending action: %w", err)
	}
	switch head.Kind {
	case kindCreateTicket:
		var a CreateTicketAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("conversation: decode ticket action: %w", err)
		}
		if a.Step == "" {
			a.Step = TicketStepSubject
		}
		return a, nil
	case kindCreditDetail:
		return CreditDetailAction{}, nil
	default:
		return nil, nil
	}
}
