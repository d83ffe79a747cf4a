package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/pkg/models"
)

// mockTool implements agent.Tool for provider conversion tests.
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func newTestAnthropicProvider(t *testing.T) *AnthropicProvider {
	t.Helper()
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	return provider
}

func TestNewAnthropicProviderValidation(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected an error without an API key")
	}

	provider, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:     "test-key",
		MaxRetries: 5,
		RetryDelay: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.defaultModel == "" {
		t.Error("an empty DefaultModel should fall back to a concrete model id")
	}
	if provider.maxRetries != 5 || provider.retryDelay != 2*time.Second {
		t.Errorf("retry settings not applied: %d/%v", provider.maxRetries, provider.retryDelay)
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	if provider.Name() != "anthropic" {
		t.Errorf("Name() = %q", provider.Name())
	}
	if !provider.SupportsTools() {
		t.Error("SupportsTools() should be true")
	}

	models := provider.Models()
	if len(models) == 0 {
		t.Fatal("Models() returned an empty list")
	}
	for _, m := range models {
		if m.ID == "" || m.ContextSize <= 0 {
			t.Errorf("malformed model entry: %+v", m)
		}
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	tests := []struct {
		name     string
		messages []agent.CompletionMessage
		wantLen  int
		wantErr  bool
	}{
		{
			name: "plain conversation",
			messages: []agent.CompletionMessage{
				{Role: "user", Content: "Hello"},
				{Role: "assistant", Content: "Hi"},
			},
			wantLen: 2,
		},
		{
			name: "system messages are handled out of band",
			messages: []agent.CompletionMessage{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "Hello"},
			},
			wantLen: 1,
		},
		{
			name: "assistant turn with a tool call",
			messages: []agent.CompletionMessage{
				{Role: "assistant", ToolCalls: []models.ToolCall{
					{ID: "call_1", Name: "calculator", Input: json.RawMessage(`{"expression":"2+2"}`)},
				}},
			},
			wantLen: 1,
		},
		{
			name: "tool result turn",
			messages: []agent.CompletionMessage{
				{Role: "tool", ToolResults: []models.ToolResult{
					{ToolCallID: "call_1", Content: "4"},
				}},
			},
			wantLen: 1,
		},
		{
			name: "malformed tool call input",
			messages: []agent.CompletionMessage{
				{Role: "assistant", ToolCalls: []models.ToolCall{
					{ID: "call_1", Name: "x", Input: json.RawMessage(`nope`)},
				}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.convertMessages(tt.messages)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestAnthropicConvertTools(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	valid := []agent.Tool{
		&mockTool{name: "get_weather", description: "Get current weather",
			schema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
		&mockTool{name: "search", description: "Search the web",
			schema: json.RawMessage(`{"type":"object"}`)},
	}
	result, err := provider.convertTools(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("len = %d, want 2", len(result))
	}

	broken := []agent.Tool{
		&mockTool{name: "bad", description: "broken schema", schema: json.RawMessage(`invalid`)},
	}
	if _, err := provider.convertTools(broken); err == nil {
		t.Error("expected an error for an undecodable schema")
	}
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		raw       string
		wantMedia string
		ok        bool
	}{
		{"data:image/png;base64,iVBORw0KGgo=", "image/png", true},
		{"data:image/jpeg;base64,/9j/4AAQ", "image/jpeg", true},
		{"https://example.com/image.png", "", false},
		{"data:image/png,notbase64", "", false},
		{"data:;base64,aGk=", "", false},
	}

	for _, tt := range tests {
		media, data, ok := parseDataURL(tt.raw)
		if ok != tt.ok {
			t.Errorf("parseDataURL(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && media != tt.wantMedia {
			t.Errorf("parseDataURL(%q) media = %q, want %q", tt.raw, media, tt.wantMedia)
		}
		if ok && data == "" {
			t.Errorf("parseDataURL(%q) returned empty payload", tt.raw)
		}
	}
}

func TestImageBlockFromAttachment(t *testing.T) {
	if block := imageBlockFromAttachment(models.Attachment{Type: "document", URL: "data:application/pdf;base64,aGk="}); block != nil {
		t.Error("non-image attachments should be dropped")
	}
	if block := imageBlockFromAttachment(models.Attachment{Type: "image", URL: "https://example.com/x.png"}); block != nil {
		t.Error("plain URLs are not representable as base64 blocks here")
	}
	if block := imageBlockFromAttachment(models.Attachment{Type: "image", URL: "data:image/png;base64,iVBORw0KGgo="}); block == nil {
		t.Error("a data-URL image should produce a block")
	}
	if block := imageBlockFromAttachment(models.Attachment{Type: "image", URL: "data:image/tiff;base64,aGk="}); block != nil {
		t.Error("unsupported media types should be dropped")
	}
}

func TestAnthropicModelAndTokenDefaults(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	if got := provider.getModel(""); got != provider.defaultModel {
		t.Errorf("getModel(\"\") = %q, want the default", got)
	}
	if got := provider.getModel("claude-3-haiku-20240307"); got != "claude-3-haiku-20240307" {
		t.Errorf("getModel should pass an explicit model through, got %q", got)
	}
	if got := provider.getMaxTokens(0); got != 4096 {
		t.Errorf("getMaxTokens(0) = %d, want 4096", got)
	}
	if got := provider.getMaxTokens(100); got != 100 {
		t.Errorf("getMaxTokens(100) = %d", got)
	}
}

func TestAnthropicRetryClassification(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	if !provider.isRetryableError(errors.New("429 rate limit")) {
		t.Error("rate limit should be retryable")
	}
	if provider.isRetryableError(errors.New("invalid request")) {
		t.Error("an invalid request should not be retryable")
	}
	if provider.isRetryableError(nil) {
		t.Error("nil is not retryable")
	}

	// A typed ProviderError takes precedence over message sniffing.
	typed := NewProviderError("anthropic", "m", nil).WithStatus(503)
	if !provider.isRetryableError(typed) {
		t.Error("a 503 ProviderError should be retryable")
	}
}

func TestAnthropicWrapError(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	if provider.wrapError(nil, "m") != nil {
		t.Error("nil should wrap to nil")
	}

	plain := errors.New("dial tcp: connection refused")
	wrapped := provider.wrapError(plain, "claude-sonnet-4-20250514")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T", wrapped)
	}
	if providerErr.Provider != "anthropic" || providerErr.Model != "claude-sonnet-4-20250514" {
		t.Errorf("identity fields wrong: %+v", providerErr)
	}

	// Already-wrapped errors pass through untouched.
	if again := provider.wrapError(wrapped, "m"); again != wrapped {
		t.Error("wrapping should be idempotent")
	}
}

func TestAnthropicCountTokens(t *testing.T) {
	provider := newTestAnthropicProvider(t)

	req := &agent.CompletionRequest{
		System: strings.Repeat("s", 400),
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: strings.Repeat("m", 400)},
		},
		Tools: []agent.Tool{
			&mockTool{name: "t", description: strings.Repeat("d", 400), schema: json.RawMessage(`{}`)},
		},
	}

	count := provider.CountTokens(req)
	// ~4 chars per token across system + content + tool description.
	if count < 250 || count > 400 {
		t.Errorf("CountTokens = %d, want a rough 300-ish estimate", count)
	}

	if provider.CountTokens(&agent.CompletionRequest{}) != 0 {
		t.Error("an empty request should estimate zero tokens")
	}
}
