package main

import (
	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// env is what every subcommand works from. Tests replace loadConfig.
type env struct {
	cfg    *appconfig.Config
	logger *logging.Logger
}

var loadConfig = appconfig.Load

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		e        = &env{}
	)

	cmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Operate the cooperative chat agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e.cfg = loadConfig()
			level := logLevel
			if level == "" {
				level = e.cfg.LogLevel
			}
			e.logger = logging.NewWriter(cmd.ErrOrStderr(), level, "text")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newVerifyWhatsAppCmd(e))
	cmd.AddCommand(newTelegramPollCmd(e))
	cmd.AddCommand(newSendCmd(e))
	cmd.AddCommand(newRateLimitStatusCmd(e))
	return cmd
}
