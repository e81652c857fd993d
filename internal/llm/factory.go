package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// Settings selects and configures the backends.
type Settings struct {
	Provider       string
	Fallback       string
	GeminiAPIKey   string
	GeminiModel    string
	BedrockModelID string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	// Bedrock is required when either provider is "bedrock".
	Bedrock ConverseAPI
}

// Build constructs the configured client, wrapping it with the fallback
// provider when one is set. It returns (nil, nil) when no provider has
// credentials, which callers treat as "AI unavailable".
func Build(ctx context.Context, s Settings, logger *logging.Logger) (LLMClient, error) {
	primary, err := buildOne(ctx, s.Provider, s)
	if err != nil {
		return nil, err
	}
	var fallback LLMClient
	if name := strings.TrimSpace(s.Fallback); name != "" && name != s.Provider {
		fallback, err = buildOne(ctx, name, s)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case primary == nil && fallback == nil:
		return nil, nil
	case primary == nil:
		return fallback, nil
	case fallback == nil:
		return primary, nil
	}
	return NewFallbackClient(primary, fallback, logger), nil
}

func buildOne(ctx context.Context, name string, s Settings) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "gemini":
		if strings.TrimSpace(s.GeminiAPIKey) == "" {
			return nil, nil
		}
		return NewGeminiClient(ctx, s.GeminiAPIKey, s.GeminiModel)
	case "bedrock":
		if s.Bedrock == nil || strings.TrimSpace(s.BedrockModelID) == "" {
			return nil, nil
		}
		return NewBedrockClient(s.Bedrock, s.BedrockModelID), nil
	case "openai":
		if strings.TrimSpace(s.OpenAIAPIKey) == "" {
			return nil, nil
		}
		return NewOpenAIClient(s.OpenAIAPIKey, s.OpenAIModel, s.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}
