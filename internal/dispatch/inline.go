package dispatch

import (
	"context"
	"time"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Inline runs each job in the caller's goroutine, bounded by a per-turn
// timeout. Errors are logged and swallowed so webhooks can always answer 200.
type Inline struct {
	handler Handler
	timeout time.Duration
	logger  *logging.Logger
}

func NewInline(handler Handler, timeout time.Duration, logger *logging.Logger) *Inline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Inline{handler: handler, timeout: timeout, logger: logger}
}

func (d *Inline) Dispatch(ctx context.Context, job Job) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.handler.Handle(ctx, job); err != nil {
		d.logger.Error("inline job failed", "channel", job.Channel, "kind", job.Kind, "error", err)
	}
	return nil
}
