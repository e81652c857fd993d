package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	defaultConcurrency   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	concurrency      int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithConcurrency bounds how many conversations run at the same time.
func WithConcurrency(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.concurrency = n
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobTimeout bounds each job.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) { cfg.jobTimeout = d }
}

// Worker consumes jobs from a Queue. A single receive loop feeds per-key
// lanes: jobs of one conversation run serially in arrival order while
// different conversations run in parallel up to the concurrency bound.
type Worker struct {
	queue   Queue
	handler Handler
	logger  *logging.Logger
	cfg     workerConfig
	slots   *semaphore.Weighted

	mu    sync.Mutex
	lanes map[string][]QueueMessage

	loop sync.WaitGroup
	jobs sync.WaitGroup
}

func NewWorker(queue Queue, handler Handler, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if handler == nil {
		panic("dispatch: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		concurrency:      defaultConcurrency,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		logger:  logger,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(int64(cfg.concurrency)),
		lanes:   make(map[string][]QueueMessage),
	}
}

// Start launches the receive loop.
func (w *Worker) Start(ctx context.Context) {
	w.loop.Add(1)
	go w.run(ctx)
}

// Wait blocks until the receive loop exits and in-flight jobs finish.
func (w *Worker) Wait() {
	w.loop.Wait()
	w.jobs.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.loop.Done()
	w.logger.Debug("inbound worker started", "concurrency", w.cfg.concurrency)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("inbound worker stopping")
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound jobs", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.enqueue(ctx, msg)
		}
	}
}

// enqueue appends msg to its lane and starts a drainer when the lane was idle.
func (w *Worker) enqueue(ctx context.Context, msg QueueMessage) {
	key := msg.GroupID
	if key == "" {
		key = msg.ID
	}
	w.mu.Lock()
	pending, busy := w.lanes[key]
	w.lanes[key] = append(pending, msg)
	w.mu.Unlock()
	if busy {
		return
	}
	w.jobs.Add(1)
	go w.drain(ctx, key)
}

func (w *Worker) drain(ctx context.Context, key string) {
	defer w.jobs.Done()
	for {
		w.mu.Lock()
		pending := w.lanes[key]
		if len(pending) == 0 {
			delete(w.lanes, key)
			w.mu.Unlock()
			return
		}
		msg := pending[0]
		w.lanes[key] = pending[1:]
		w.mu.Unlock()

		// Jobs already received still run during shutdown so that their
		// messages get deleted.
		if err := w.slots.Acquire(context.WithoutCancel(ctx), 1); err != nil {
			w.logger.Error("failed to acquire worker slot", "error", err)
			continue
		}
		w.handleMessage(context.WithoutCancel(ctx), msg)
		w.slots.Release(1)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	defer w.deleteMessage(ctx, msg.ReceiptHandle)

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable job", "error", err, "msg_id", msg.ID)
		return
	}
	if w.cfg.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "job_id", job.ID, "panic", r)
		}
	}()
	if err := w.handler.Handle(ctx, job); err != nil {
		w.logger.Error("job failed", "job_id", job.ID, "channel", job.Channel, "kind", job.Kind, "error", err)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound job", "error", err)
	}
}
