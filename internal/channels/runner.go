// Package channels runs inbound jobs from every chat channel: text goes to
// the conversation engine, photos go to receipt intake, and the reply is
// sent back on the channel it came from.
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/coop-chat-agent/internal/conversation"
	"github.com/wolfman30/coop-chat-agent/internal/dispatch"
	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/internal/receipts"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Engine runs conversation turns.
type Engine interface {
	HandleMessage(ctx context.Context, in conversation.Inbound) conversation.Reply
}

// ReceiptProcessor runs receipt intake for a photo.
type ReceiptProcessor interface {
	Process(ctx context.Context, channel, address string, img receipts.Image) receipts.Result
}

// Sender delivers a reply on one channel.
type Sender interface {
	SendText(ctx context.Context, recipient, text string) providers.Result
}

// FileResolver turns a channel file id into a download link.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// Runner implements dispatch.Handler for all channels.
type Runner struct {
	engine    Engine
	receipts  ReceiptProcessor
	senders   map[string]Sender
	resolvers map[string]FileResolver
	metrics   *metrics.AgentMetrics
	logger    *logging.Logger
}

type RunnerOption func(*Runner)

// WithSender registers the reply sender of channel.
func WithSender(channel string, s Sender) RunnerOption {
	return func(r *Runner) { r.senders[channel] = s }
}

// WithFileResolver registers how photo file ids of channel become links.
func WithFileResolver(channel string, f FileResolver) RunnerOption {
	return func(r *Runner) { r.resolvers[channel] = f }
}

func WithMetrics(m *metrics.AgentMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(engine Engine, receiptProcessor ReceiptProcessor, logger *logging.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Runner{
		engine:    engine,
		receipts:  receiptProcessor,
		senders:   make(map[string]Sender),
		resolvers: make(map[string]FileResolver),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle runs one inbound job and sends the reply.
func (r *Runner) Handle(ctx context.Context, job dispatch.Job) error {
	start := time.Now()
	r.metrics.ObserveInbound(job.Channel, string(job.Kind))
	logger := r.logger.With("channel", job.Channel, "kind", job.Kind, "job_id", job.ID)

	var text string
	switch job.Kind {
	case dispatch.KindText:
		reply := r.engine.HandleMessage(ctx, conversation.Inbound{
			Channel:  job.Channel,
			Address:  job.Address,
			Text:     job.Text,
			Forced:   job.Forced,
			Metadata: job.Metadata,
		})
		if reply.Silent {
			logger.Info("conversation is blocked, no reply sent", "conversation_id", reply.ConversationID)
			return nil
		}
		text = reply.Text
	case dispatch.KindImage:
		text = r.receipt(ctx, job, logger)
	case dispatch.KindDirect:
		text = job.Text
	case dispatch.KindInteractive:
		text = format.InteractiveReceived
	default:
		text = format.UnsupportedMessage
	}

	err := r.send(ctx, job, text)
	logger.Debug("job handled", "duration_ms", time.Since(start).Milliseconds())
	return err
}

func (r *Runner) receipt(ctx context.Context, job dispatch.Job, logger *logging.Logger) string {
	if r.receipts == nil {
		return format.UnsupportedMessage
	}
	img := receipts.Image{}
	if job.Image != nil {
		img.ID = job.Image.ID
		img.Link = job.Image.Link
		img.Caption = job.Image.Caption
		if fileID := job.Image.FileID; fileID != "" && img.Link == "" {
			if resolver := r.resolvers[job.Channel]; resolver != nil {
				img.Resolve = func(ctx context.Context) (string, error) {
					return resolver.FileURL(ctx, fileID)
				}
			}
		}
	}
	res := r.receipts.Process(ctx, job.Channel, job.Address, img)
	logger.Info("receipt processed", "outcome", res.Outcome, "receipt_id", res.ReceiptID)
	return res.Reply
}

func (r *Runner) send(ctx context.Context, job dispatch.Job, text string) error {
	if text == "" {
		return nil
	}
	sender := r.senders[job.Channel]
	if sender == nil {
		return fmt.Errorf("channels: no sender for channel %q", job.Channel)
	}
	res := sender.SendText(ctx, job.Address, text)
	if !res.Success {
		return fmt.Errorf("channels: reply to %s failed: %s", job.Channel, res.Error)
	}
	return nil
}
