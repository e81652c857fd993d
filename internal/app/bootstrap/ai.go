package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/coop-chat-agent/internal/assistant"
	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/llm"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// BuildLLMClient returns the configured model client, or nil when no
// provider has credentials. awsCfg is only read for Bedrock.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.LLMClient, error) {
	settings := llm.Settings{
		Provider:       cfg.LLMProvider,
		Fallback:       cfg.LLMFallbackProvider,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		GeminiModel:    cfg.GeminiModel,
		BedrockModelID: cfg.BedrockModelID,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIModel:    cfg.OpenAIModel,
	}
	if awsCfg != nil {
		settings.Bedrock = bedrockruntime.NewFromConfig(*awsCfg)
	}
	client, err := llm.Build(ctx, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: llm: %w", err)
	}
	if client == nil {
		logger.Warn("no LLM provider configured; AI fallback disabled")
	}
	return client, nil
}

// BuildAssistant wraps the model client. The service is usable without a
// client and then only reports "unavailable".
func BuildAssistant(client llm.LLMClient, cfg *appconfig.Config, logger *logging.Logger) *assistant.Service {
	return assistant.New(client, logger, assistant.WithTimeout(cfg.AITimeout))
}

// BuildDetector loads the keyword table and hooks in the AI classifier when
// the assistant has a model behind it.
func BuildDetector(cfg *appconfig.Config, ai *assistant.Service, logger *logging.Logger) (*intent.Detector, error) {
	keywords, err := intent.LoadKeywords(cfg.IntentKeywordsFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: intent keywords: %w", err)
	}
	opts := []intent.Option{
		intent.WithKeywords(keywords),
		intent.WithThreshold(cfg.IntentConfidenceThreshold),
	}
	if ai != nil && ai.Available() {
		opts = append(opts, intent.WithClassifier(ai))
	}
	return intent.NewDetector(logger, opts...), nil
}
