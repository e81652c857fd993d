// Package llm wraps the generative-text backends used for intent
// classification, open questions and receipt extraction.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Image is inline image data attached to the last user message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Format returns the short image format ("jpeg", "png", ...).
func (i Image) Format() string {
	f := strings.TrimPrefix(strings.ToLower(i.MIMEType), "image/")
	if f == "jpg" || f == "" {
		return "jpeg"
	}
	return f
}

// Schema is a backend-neutral JSON schema for structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// String renders the schema as JSON for prompt-level instructions.
func (s *Schema) String() string {
	if s == nil {
		return ""
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
	// JSON asks the backend for a JSON document; Schema constrains it when
	// the backend supports response schemas.
	JSON   bool
	Schema *Schema
	Images []Image
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// jsonInstruction is appended to the system prompt for backends without
// native schema support.
func jsonInstruction(schema *Schema) string {
	if schema == nil {
		return "Responde únicamente con un objeto JSON válido, sin texto adicional."
	}
	return "Responde únicamente con un objeto JSON válido que cumpla este esquema, sin texto adicional: " + schema.String()
}

// StripCodeFence removes a surrounding ```json fence some models emit.
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
