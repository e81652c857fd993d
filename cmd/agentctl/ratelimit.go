package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
)

func newRateLimitStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ratelimit-status",
		Short: "Print the WHAPI rate limiter usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := redisOrNil(ctx, e)
			if client == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "REDIS_ADDR not set or unreachable; usage is only tracked inside each server process")
			}
			limiter := bootstrap.BuildLimiter(e.cfg, client, nil, e.logger)
			st, err := limiter.Status(ctx, providers.NameWHAPI)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return nil
		},
	}
}

// redisOrNil returns nil as an untyped interface when Redis is unavailable.
func redisOrNil(ctx context.Context, e *env) redis.UniversalClient {
	if client := bootstrap.BuildRedisClient(ctx, e.cfg, e.logger, true); client != nil {
		return client
	}
	return nil
}
