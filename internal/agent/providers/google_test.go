package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/pkg/models"
	"google.golang.org/genai"
)

func TestNewGoogleProviderValidation(t *testing.T) {
	if _, err := NewGoogleProvider(GoogleConfig{}); err == nil {
		t.Fatal("expected an error without an API key")
	}

	provider, err := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.defaultModel != "gemini-2.0-flash" {
		t.Errorf("default model = %q", provider.defaultModel)
	}
	if provider.Name() != "google" {
		t.Errorf("Name() = %q", provider.Name())
	}
	if !provider.SupportsTools() {
		t.Error("SupportsTools() should be true")
	}
}

func TestGoogleConvertMessages(t *testing.T) {
	p := &GoogleProvider{}

	messages := []agent.CompletionMessage{
		{Role: "system", Content: "carried via SystemInstruction"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi", ToolCalls: []models.ToolCall{
			{ID: "fc_1", Name: "calculator", Input: json.RawMessage(`{"expression":"2+2"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "fc_1", Content: `{"value":4}`},
		}},
	}

	result, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("len = %d, want 3 (system excluded)", len(result))
	}

	if result[0].Role != genai.RoleUser {
		t.Errorf("first role = %v, want user", result[0].Role)
	}
	if result[1].Role != genai.RoleModel {
		t.Errorf("assistant role = %v, want model", result[1].Role)
	}

	// The assistant turn carries text plus a function call.
	if len(result[1].Parts) != 2 {
		t.Fatalf("assistant parts = %d, want 2", len(result[1].Parts))
	}
	fc := result[1].Parts[1].FunctionCall
	if fc == nil || fc.Name != "calculator" {
		t.Fatalf("function call part wrong: %+v", result[1].Parts[1])
	}
	if fc.Args["expression"] != "2+2" {
		t.Errorf("args = %v", fc.Args)
	}

	// The tool result is addressed back by function name, recovered from
	// the originating call id.
	fr := result[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "calculator" {
		t.Fatalf("function response part wrong: %+v", result[2].Parts[0])
	}
	if fr.Response["value"] != float64(4) {
		t.Errorf("response = %v", fr.Response)
	}
}

func TestGoogleConvertMessagesWrapsNonJSONToolResult(t *testing.T) {
	p := &GoogleProvider{}
	result, err := p.convertMessages([]agent.CompletionMessage{
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "fc_x", Content: "plain text output", IsError: true},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fr := result[0].Parts[0].FunctionResponse
	if fr.Response["result"] != "plain text output" || fr.Response["error"] != true {
		t.Errorf("non-JSON results should be wrapped: %v", fr.Response)
	}
}

func TestGeminiToolName(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "fc_1", Name: "search"}}},
	}
	if got := geminiToolName("fc_1", messages); got != "search" {
		t.Errorf("geminiToolName = %q, want search", got)
	}
	if got := geminiToolName("fc_unknown", messages); got != "fc_unknown" {
		t.Errorf("unknown ids fall back to themselves, got %q", got)
	}
}

func TestGeminiImagePart(t *testing.T) {
	if part := geminiImagePart(models.Attachment{Type: "image", URL: "data:image/png;base64,iVBORw0KGgo="}); part == nil || part.InlineData == nil {
		t.Error("a data URL should become an inline blob")
	}
	if part := geminiImagePart(models.Attachment{Type: "image", URL: "https://example.com/a.png", MimeType: "image/png"}); part == nil || part.FileData == nil {
		t.Error("a plain URL should become a file reference")
	}
	if part := geminiImagePart(models.Attachment{Type: "document", URL: "data:application/pdf;base64,aGk="}); part != nil {
		t.Error("non-image attachments should be dropped")
	}
	if part := geminiImagePart(models.Attachment{Type: "image"}); part != nil {
		t.Error("an attachment without a URL should be dropped")
	}
}

func TestGoogleBuildConfig(t *testing.T) {
	p := &GoogleProvider{}

	cfg := p.buildConfig(&agent.CompletionRequest{
		System:    "be concise",
		MaxTokens: 512,
		Tools: []agent.Tool{
			&mockTool{name: "search", description: "Search", schema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		},
	})

	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be concise" {
		t.Error("system instruction not carried")
	}
	if cfg.MaxOutputTokens != 512 {
		t.Errorf("MaxOutputTokens = %d, want 512", cfg.MaxOutputTokens)
	}
	if len(cfg.Tools) != 1 || len(cfg.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools not converted: %+v", cfg.Tools)
	}
	if cfg.Tools[0].FunctionDeclarations[0].Name != "search" {
		t.Errorf("declaration name = %q", cfg.Tools[0].FunctionDeclarations[0].Name)
	}
}

func TestGoogleRetryClassification(t *testing.T) {
	p := &GoogleProvider{}

	if !p.isRetryableError(errors.New("resource exhausted: quota")) {
		t.Error("resource exhausted should be retryable")
	}
	if !p.isRetryableError(errors.New("503 service overloaded")) {
		t.Error("5xx should be retryable")
	}
	if p.isRetryableError(errors.New("invalid argument: bad schema")) {
		t.Error("an invalid argument should not be retryable")
	}
	if p.isRetryableError(nil) {
		t.Error("nil is not retryable")
	}
}

func TestGoogleWrapError(t *testing.T) {
	p := &GoogleProvider{}

	if p.wrapError(nil, "m") != nil {
		t.Error("nil wraps to nil")
	}
	wrapped := p.wrapError(errors.New("permission denied"), "gemini-2.0-flash")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T", wrapped)
	}
	if providerErr.Provider != "google" || providerErr.Model != "gemini-2.0-flash" {
		t.Errorf("identity fields wrong: %+v", providerErr)
	}
	if again := p.wrapError(wrapped, "m"); again != wrapped {
		t.Error("wrapping should be idempotent")
	}
}
