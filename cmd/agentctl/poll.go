package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wolfman30/coop-chat-agent/cmd/mainconfig"
	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
)

func newTelegramPollCmd(e *env) *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "telegram-poll",
		Short: "Answer Telegram chats by long polling instead of the webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := *e.cfg
			cfg.InboundMode = bootstrap.ModeInline
			c, err := bootstrap.Build(ctx, &cfg, e.logger, bootstrap.Options{AWS: mainconfig.LoadAWSConfig})
			if err != nil {
				return err
			}
			defer c.Close()
			if c.TelegramBot == nil {
				return errors.New("TELEGRAM_BOT_TOKEN is not set")
			}
			return c.Telegram.Poll(ctx, c.TelegramBot, timeout)
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 30, "long-poll timeout in seconds")
	return cmd
}
