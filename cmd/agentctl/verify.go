package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
)

func newVerifyWhatsAppCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-whatsapp",
		Short: "Show which WhatsApp providers are configured and where to point their webhooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := e.cfg
			factory := bootstrap.BuildProviderFactory(cfg, ratelimit.Noop{}, nil, e.logger)

			fmt.Fprintf(out, "Preferred provider: %s\n", orDash(cfg.WhatsAppProvider))
			for _, info := range factory.Available(providers.ChannelWhatsApp) {
				state := "not configured"
				if info.Configured {
					state = "configured"
				}
				fmt.Fprintf(out, "  %-6s %s\n", info.Name, state)
			}
			if p, err := factory.Get(providers.ChannelWhatsApp, ""); err == nil {
				fmt.Fprintf(out, "Active provider: %s\n", p.Name())
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "META_WHATSAPP_TOKEN:        %s\n", mask(cfg.MetaWhatsAppToken))
			fmt.Fprintf(out, "META_WHATSAPP_PHONE_ID:     %s\n", orDash(cfg.MetaWhatsAppPhoneNumberID))
			fmt.Fprintf(out, "META_VERIFY_TOKEN:          %s\n", mask(cfg.MetaVerifyToken))
			fmt.Fprintf(out, "WHAPI_TOKEN:                %s\n", mask(cfg.WhapiToken))
			fmt.Fprintf(out, "Webhook URL:                %s/webhooks/whatsapp\n", strings.TrimRight(cfg.PublicBaseURL, "/"))
			return nil
		},
	}
}

// mask keeps the first and last four characters of a secret.
func mask(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
