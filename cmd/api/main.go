package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/coop-chat-agent/cmd/mainconfig"
	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	shutdownTimeout     = 30 * time.Second
	telegramPollTimeout = 30
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting coop-chat-agent API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"inbound_mode", cfg.InboundMode,
		"telegram_mode", cfg.TelegramMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, bootstrap.Options{AWS: mainconfig.LoadAWSConfig}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run serves HTTP until ctx is cancelled. In memory mode it also runs the
// queue worker, and in polling mode the Telegram long poller.
func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts bootstrap.Options) error {
	c, err := bootstrap.Build(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler,
		ReadTimeout:  15 * time.Second,
		// Inline mode answers after the whole turn.
		WriteTimeout: cfg.TurnTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.InboundMode == bootstrap.ModeMemory {
		worker := c.NewWorker()
		worker.Start(gctx)
		g.Go(func() error {
			worker.Wait()
			logger.Info("inline worker stopped")
			return nil
		})
	}

	if cfg.TelegramMode == "polling" {
		g.Go(func() error {
			if c.TelegramBot == nil {
				logger.Warn("TELEGRAM_MODE=polling but TELEGRAM_BOT_TOKEN is empty; not polling")
				return nil
			}
			return c.Telegram.Poll(gctx, c.TelegramBot, telegramPollTimeout)
		})
	}

	return g.Wait()
}
