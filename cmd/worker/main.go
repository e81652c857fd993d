package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/coop-chat-agent/cmd/mainconfig"
	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const drainTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, bootstrap.Options{AWS: mainconfig.LoadAWSConfig}); err != nil {
		logger.Error("inbound worker failed", "error", err)
		os.Exit(1)
	}
}

// run consumes the SQS inbound queue until ctx is cancelled, then waits for
// in-flight turns to finish.
func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts bootstrap.Options) error {
	if cfg.InboundMode != bootstrap.ModeSQS {
		return fmt.Errorf("worker needs INBOUND_MODE=sqs, got %q", cfg.InboundMode)
	}
	c, err := bootstrap.Build(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	worker := c.NewWorker()
	if worker == nil {
		return errors.New("worker: no inbound queue configured")
	}
	logger.Info("inbound worker started", "concurrency", cfg.WorkerCount, "queue", cfg.InboundQueueURL)
	worker.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down inbound worker...")

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("inbound worker stopped")
		return nil
	case <-time.After(drainTimeout):
		return errors.New("inbound worker shutdown timed out")
	}
}
