package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/wolfman30/coop-chat-agent/internal/assistant"
	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/notify"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Directory is the partner directory and ticketing API.
type Directory interface {
	Authenticate(ctx context.Context, documentNumber, birthYear string) (*partners.Partner, error)
	AccountStatement(ctx context.Context, partnerID int64) (*partners.Statement, error)
	Credits(ctx context.Context, partnerID int64, status string) (*partners.CreditList, error)
	CreditDetail(ctx context.Context, partnerID, creditID int64) (*partners.CreditDetail, error)
	CreateTicket(ctx context.Context, req partners.TicketRequest) (*partners.Ticket, error)
}

// Detector classifies free text.
type Detector interface {
	DetectWithSource(ctx context.Context, text string) intent.Result
}

// Answerer produces open-domain answers for messages nothing else matched.
type Answerer interface {
	AnswerQuery(ctx context.Context, query string, qc assistant.QueryContext) (string, error)
}

// TicketNotifier is told about every ticket opened through the chat.
type TicketNotifier interface {
	TicketCreated(ctx context.Context, evt notify.TicketEvent)
}

// Intent sources reported to metrics beyond the detector's own.
const (
	sourcePending = "pending"
	sourceForced  = "forced"
	sourceGate    = "gate"
)

const (
	defaultMaxAuthFailures = 5
	defaultAuthLockout     = 15 * time.Minute
	ticketPriority         = 2
	defaultTicketSubject   = "Consulta desde chatbot"
)

// Inbound is one user message delivered by a channel adapter.
type Inbound struct {
	Channel string
	Address string
	Text    string
	// Forced skips intent detection, e.g. for Telegram commands. The
	// authentication gate still applies.
	Forced   intent.Type
	Metadata map[string]string
}

// Reply is the outcome of a turn. Silent replies must not be sent.
type Reply struct {
	Text           string
	Intent         intent.Type
	Silent         bool
	ConversationID int64
}

// Engine runs the per-message state machine. Each turn routes inside
// Store.Update, so turns of one conversation are serialized by the store's
// row lock even across processes; different conversations proceed in
// parallel.
type Engine struct {
	store     Store
	directory Directory
	detector  Detector
	answerer  Answerer
	notifier  TicketNotifier
	metrics   *metrics.AgentMetrics
	logger    *logging.Logger
	locks     *kmutex.Kmutex
	now       func() time.Time

	maxAuthFailures int
	authLockout     time.Duration
	answerUnknown   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnswerer enables AI answers for UNKNOWN messages of authenticated
// partners.
func WithAnswerer(a Answerer) Option {
	return func(e *Engine) {
		e.answerer = a
		e.answerUnknown = a != nil
	}
}

// WithNotifier sends ticket-created events to n.
func WithNotifier(n TicketNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics records turn latency and intent counts in m.
func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuthPolicy sets how many consecutive failed authentications lock a
// conversation and for how long. maxFailures <= 0 disables the lockout.
func WithAuthPolicy(maxFailures int, lockout time.Duration) Option {
	return func(e *Engine) {
		e.maxAuthFailures = maxFailures
		if lockout > 0 {
			e.authLockout = lockout
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an Engine over store. It panics when store is nil.
func NewEngine(store Store, directory Directory, detector Detector, logger *logging.Logger, opts ...Option) *Engine {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:           store,
		directory:       directory,
		detector:        detector,
		logger:          logger,
		locks:           kmutex.New(),
		now:             time.Now,
		maxAuthFailures: defaultMaxAuthFailures,
		authLockout:     defaultAuthLockout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage runs one turn and returns the text to send back. Failures
// never escape: they are logged and answered with the processing-error text.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) (reply Reply) {
	start := e.now()
	key := Key{Channel: in.Channel, Address: in.Address}
	logger := e.logger.With("channel", in.Channel, "address", in.Address)

	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("conversation turn panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			reply = Reply{Text: format.ProcessingError, Intent: intent.Unknown, ConversationID: reply.ConversationID}
		}
		e.metrics.ObserveTurn(in.Channel, e.now().Sub(start).Seconds())
	}()

	conv, err := e.store.GetOrCreate(ctx, key)
	if err != nil {
		logger.Error("failed to load conversation", "error", err)
		return Reply{Text: format.ProcessingError, Intent: intent.Unknown}
	}
	reply.ConversationID = conv.ID
	logger = logger.With("conversation_id", conv.ID)

	if _, err := e.store.AppendMessage(ctx, Message{
		ConversationID: conv.ID,
		Role:           RoleUser,
		Body:           in.Text,
		Metadata:       in.Metadata,
	}); err != nil {
		logger.Error("failed to persist inbound message", "error", err)
		return Reply{Text: format.ProcessingError, Intent: intent.Unknown, ConversationID: conv.ID}
	}

	// The turn runs against the locked row so that replicas sharing the
	// database never route on a stale copy.
	var (
		text    string
		it      intent.Type
		blocked bool
	)
	if _, err := e.store.Update(ctx, key, func(c *Conversation) error {
		if c.Status == StatusBlocked {
			blocked = true
			return nil
		}
		text, it = e.route(ctx, c, in, logger)
		c.LastInteraction = e.now().UTC()
		return nil
	}); err != nil {
		logger.Error("failed to save conversation state", "error", err, "intent", it)
		return Reply{Text: format.ProcessingError, Intent: intent.Unknown, ConversationID: conv.ID}
	}
	if blocked {
		logger.Info("conversation blocked, not replying")
		return Reply{Silent: true, ConversationID: conv.ID}
	}

	if _, err := e.store.AppendMessage(ctx, Message{
		ConversationID: conv.ID,
		Role:           RoleAgent,
		Body:           text,
		Intent:         it,
	}); err != nil {
		logger.Error("failed to persist reply", "error", err, "intent", it)
	}

	return Reply{Text: text, Intent: it, ConversationID: conv.ID}
}

func (e *Engine) route(ctx context.Context, c *Conversation, in Inbound, logger *logging.Logger) (string, intent.Type) {
	if c.Status == StatusClosed {
		c.Status = StatusPendingAuth
		if c.Authenticated {
			c.Status = StatusActive
		}
		logger.Info("reopening closed conversation", "status", c.Status)
	}

	if !c.Authenticated {
		e.metrics.ObserveIntent(string(intent.Authentication), sourceGate)
		return e.authenticate(ctx, c, in.Text, logger), intent.Authentication
	}
	if c.Status == StatusAuthenticated || c.Status == StatusPendingAuth {
		c.Status = StatusActive
	}

	var (
		it     intent.Type
		source string
	)
	switch {
	case in.Forced != "":
		it, source = in.Forced, sourceForced
		c.Context.Pending = nil
	case c.Context.Pending != nil:
		it, source = c.Context.Pending.Intent(), sourcePending
		logger.Info("continuing pending action", "action", c.Context.Pending.Kind())
	case e.detector != nil:
		res := e.detector.DetectWithSource(ctx, in.Text)
		it, source = res.Intent, string(res.Source)
	default:
		it, source = intent.Unknown, string(intent.SourceNone)
	}
	logger.Info("routing message", "intent", it, "source", source)
	e.metrics.ObserveIntent(string(it), source)

	return e.dispatch(ctx, c, in, it, logger), it
}

func (e *Engine) dispatch(ctx context.Context, c *Conversation, in Inbound, it intent.Type, logger *logging.Logger) string {
	switch it {
	case intent.Greeting, intent.Authentication:
		return e.greeting(c)
	case intent.Help:
		return format.Menu
	case intent.PartnerDetail:
		return e.partnerDetail(c)
	case intent.AccountStatement:
		return e.accountStatement(ctx, c, logger)
	case intent.ListCredits:
		return e.listCredits(ctx, c, logger)
	case intent.CreditDetail:
		return e.creditDetail(ctx, c, in.Text, logger)
	case intent.CreateTicket:
		return e.createTicket(ctx, c, in, logger)
	case intent.UploadReceipt:
		return format.UploadReceiptInstructions
	case intent.Goodbye:
		return format.Goodbye
	default:
		return e.unknown(ctx, c, in.Text, logger)
	}
}

func (e *Engine) authenticate(ctx context.Context, c *Conversation, text string, logger *logging.Logger) string {
	now := e.now()
	if c.Context.Locked(now) {
		logger.Warn("authentication attempt while locked", "locked_until", c.Context.LockedUntil)
		return format.Error(format.AuthenticationLocked)
	}
	c.Context.LockedUntil = nil

	auth, ok := intent.ExtractAuth(text)
	if !ok {
		return format.AuthenticationPrompt
	}
	if e.directory == nil {
		logger.Error("partner directory not configured")
		return format.Error(format.AuthenticationError)
	}

	partner, err := e.directory.Authenticate(ctx, auth.DocumentNumber, auth.BirthYear)
	if err != nil {
		if !errors.Is(err, partners.ErrNotFound) && !errors.Is(err, partners.ErrEmptyResponse) {
			logger.Error("partner directory authentication failed", "error", err)
			return format.Error(format.AuthenticationError)
		}
		c.Context.AuthFailures++
		logger.Info("authentication rejected", "failures", c.Context.AuthFailures)
		if e.maxAuthFailures > 0 && c.Context.AuthFailures >= e.maxAuthFailures {
			until := now.Add(e.authLockout).UTC()
			c.Context.LockedUntil = &until
			c.Context.AuthFailures = 0
			logger.Warn("authentication locked", "locked_until", until)
			return format.Error(format.AuthenticationLocked)
		}
		return format.Error(format.AuthenticationError)
	}

	c.Partner = partner
	c.Authenticated = true
	c.Status = StatusAuthenticated
	c.Context = Context{}
	logger.Info("partner authenticated", "partner_id", partner.ID)
	return format.AuthenticationSuccess(partner.DisplayName())
}

// Conversation returns the conversation for key, creating it if needed.
func (e *Engine) Conversation(ctx context.Context, key Key) (*Conversation, error) {
	return e.store.GetOrCreate(ctx, key)
}

// Do runs fn with the conversation for key while holding the turn lock, so
// side flows such as receipt intake are ordered with text turns.
func (e *Engine) Do(ctx context.Context, key Key, fn func(ctx context.Context, c *Conversation) error) error {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	c, err := e.store.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

// Record appends a message to the log of conversationID.
func (e *Engine) Record(ctx context.Context, conversationID int64, role Role, body string, it intent.Type, metadata map[string]string) error {
	_, err := e.store.AppendMessage(ctx, Message{
		ConversationID: conversationID,
		Role:           role,
		Body:           body,
		Intent:         it,
		Metadata:       metadata,
	})
	return err
}

// History returns a conversation and its most recent messages.
func (e *Engine) History(ctx context.Context, key Key, limit int) (*Conversation, []Message, error) {
	c, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := e.store.Messages(ctx, c.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return c, msgs, nil
}

// SetStatus lets an operator activate, close or block a conversation.
func (e *Engine) SetStatus(ctx context.Context, key Key, status Status) (*Conversation, error) {
	switch status {
	case StatusActive, StatusClosed, StatusBlocked:
	default:
		return nil, fmt.Errorf("conversation: status %q cannot be set manually", status)
	}
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	return e.store.Update(ctx, key, func(c *Conversation) error {
		if status == StatusActive && !c.Authenticated {
			c.Status = StatusPendingAuth
			return nil
		}
		c.Status = status
		return nil
	})
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
