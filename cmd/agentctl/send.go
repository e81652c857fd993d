package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
)

func newSendCmd(e *env) *cobra.Command {
	var channel, to, text, provider, buttonLabel, buttonURL string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" || text == "" {
				return errors.New("--to and --text are required")
			}
			if (buttonLabel == "") != (buttonURL == "") {
				return errors.New("--button-label and --button-url go together")
			}
			ctx := cmd.Context()
			limiter := bootstrap.BuildLimiter(e.cfg, redisOrNil(ctx, e), nil, e.logger)
			factory := bootstrap.BuildProviderFactory(e.cfg, limiter, nil, e.logger)
			p, err := factory.Get(channel, provider)
			if err != nil {
				return err
			}

			var res providers.Result
			if buttonLabel != "" {
				res = p.SendTextWithButton(ctx, to, text, buttonLabel, buttonURL)
			} else {
				res = p.SendText(ctx, to, text)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"provider": p.Name(), "result": res}); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "whatsapp", "channel: whatsapp or telegram")
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number or Telegram chat id")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&provider, "provider", "", "force a provider (meta, whapi, telegram_bot)")
	cmd.Flags().StringVar(&buttonLabel, "button-label", "", "label of a URL button")
	cmd.Flags().StringVar(&buttonURL, "button-url", "", "target of the URL button")
	return cmd
}
