// Package dispatch carries inbound chat messages from webhook handlers to the
// code that runs conversation turns, either inline or through a queue.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/coop-chat-agent/internal/intent"
)

// Kind is the type of inbound message carried by a Job.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindInteractive Kind = "interactive"
	KindUnsupported Kind = "unsupported"
	// KindDirect carries a reply chosen by the adapter, e.g. for /start.
	KindDirect      Kind = "direct"
)

// ImageRef points at an inbound photo. Telegram photos carry a FileID that
// must be resolved into a download link; WhatsApp photos carry the link.
type ImageRef struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Job is one inbound message.
type Job struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Channel    string            `json:"channel"`
	Address    string            `json:"address"`
	Text       string            `json:"text,omitempty"`
	Forced     intent.Type       `json:"forced,omitempty"`
	Image      *ImageRef         `json:"image,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// GroupKey orders jobs: jobs with the same key run one at a time in
// arrival order.
func (j Job) GroupKey() string {
	return j.Channel + ":" + j.Address
}

// Handler runs one job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Dispatcher accepts inbound jobs from webhook handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("dispatch: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("dispatch: failed to decode job: %w", err)
	}
	return job, nil
}
