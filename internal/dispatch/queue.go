package dispatch

import (
	"context"
)

// Queue is a message queue with per-group ordering.
type Queue interface {
	Send(ctx context.Context, groupID, dedupID, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received message.
type QueueMessage struct {
	ID            string
	GroupID       string
	Body          string
	ReceiptHandle string
}

// Publisher enqueues jobs for a Worker.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	return &Publisher{queue: queue}
}

func (p *Publisher) Dispatch(ctx context.Context, job Job) error {
	job, body, err := encodeJob(job)
	if err != nil {
		return err
	}
	dedup := job.ID
	if job.MessageID != "" {
		dedup = job.Channel + ":" + job.MessageID
	}
	return p.queue.Send(ctx, job.GroupKey(), dedup, body)
}
