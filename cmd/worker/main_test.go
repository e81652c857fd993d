package main

import (
	"context"
	"strings"
	"testing"

	"github.com/wolfman30/coop-chat-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

func TestRunRequiresSQSMode(t *testing.T) {
	for _, mode := range []string{bootstrap.ModeInline, bootstrap.ModeMemory, ""} {
		err := run(context.Background(), &appconfig.Config{InboundMode: mode}, logging.Discard(), bootstrap.Options{})
		if err == nil || !strings.Contains(err.Error(), "INBOUND_MODE=sqs") {
			t.Fatalf("mode %q: expected sqs mode error, got %v", mode, err)
		}
	}
}
