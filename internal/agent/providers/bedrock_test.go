package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/pkg/models"
)

func TestBedrockConvertMessages(t *testing.T) {
	p := &BedrockProvider{}

	messages := []agent.CompletionMessage{
		{Role: "system", Content: "carried separately"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tu_1", Name: "calculator", Input: json.RawMessage(`{"expression":"2+2"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tu_1", Content: "4"},
		}},
	}

	result, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("len = %d, want 3 (system excluded)", len(result))
	}

	if result[0].Role != types.ConversationRoleUser {
		t.Errorf("first role = %v, want user", result[0].Role)
	}
	if result[1].Role != types.ConversationRoleAssistant {
		t.Errorf("second role = %v, want assistant", result[1].Role)
	}

	toolUse, ok := result[1].Content[0].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("expected a tool-use block, got %T", result[1].Content[0])
	}
	if *toolUse.Value.ToolUseId != "tu_1" || *toolUse.Value.Name != "calculator" {
		t.Errorf("tool use block wrong: %+v", toolUse.Value)
	}

	toolResult, ok := result[2].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("expected a tool-result block, got %T", result[2].Content[0])
	}
	if *toolResult.Value.ToolUseId != "tu_1" {
		t.Errorf("tool result id = %q, want tu_1", *toolResult.Value.ToolUseId)
	}
}

func TestBedrockConvertMessagesDropsEmptyTurns(t *testing.T) {
	p := &BedrockProvider{}
	result, err := p.convertMessages([]agent.CompletionMessage{{Role: "user"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("a content-less turn should be dropped, got %d messages", len(result))
	}
}

func TestBedrockImageBlock(t *testing.T) {
	if block := bedrockImageBlock(models.Attachment{Type: "image", URL: "data:image/png;base64,iVBORw0KGgo="}); block == nil {
		t.Error("a png data URL should convert")
	}
	if block := bedrockImageBlock(models.Attachment{Type: "image", URL: "https://example.com/a.png"}); block != nil {
		t.Error("plain URLs are not inlined")
	}
	if block := bedrockImageBlock(models.Attachment{Type: "image", URL: "data:image/tiff;base64,aGk="}); block != nil {
		t.Error("unsupported formats should be dropped")
	}
	if block := bedrockImageBlock(models.Attachment{Type: "audio", URL: "data:audio/mp3;base64,aGk="}); block != nil {
		t.Error("non-image attachments should be dropped")
	}
}

func TestBedrockImageFormat(t *testing.T) {
	tests := []struct {
		mediaType string
		want      types.ImageFormat
		ok        bool
	}{
		{"image/png", types.ImageFormatPng, true},
		{"image/jpeg", types.ImageFormatJpeg, true},
		{"image/JPG", types.ImageFormatJpeg, true},
		{"image/gif", types.ImageFormatGif, true},
		{"image/webp", types.ImageFormatWebp, true},
		{"image/tiff", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bedrockImageFormat(tt.mediaType)
		if ok != tt.ok || got != tt.want {
			t.Errorf("bedrockImageFormat(%q) = %v/%v, want %v/%v", tt.mediaType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBedrockRetryClassification(t *testing.T) {
	p := &BedrockProvider{}

	if !p.isRetryableError(errors.New("ThrottlingException: slow down")) {
		t.Error("AWS throttling should be retryable")
	}
	if !p.isRetryableError(errors.New("ServiceUnavailableException")) {
		t.Error("service unavailable should be retryable")
	}
	if !p.isRetryableError(errors.New("429 too many requests")) {
		t.Error("generic rate limits should be retryable")
	}
	if p.isRetryableError(errors.New("ValidationException: malformed request")) {
		t.Error("a validation error should not be retryable")
	}
	if p.isRetryableError(nil) {
		t.Error("nil is not retryable")
	}
}

func TestBedrockWrapError(t *testing.T) {
	p := &BedrockProvider{}

	if p.wrapError(nil, "m") != nil {
		t.Error("nil wraps to nil")
	}

	wrapped := p.wrapError(errors.New("ThrottlingException"), "anthropic.claude-3-sonnet-20240229-v1:0")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T", wrapped)
	}
	if providerErr.Provider != "bedrock" {
		t.Errorf("Provider = %q, want bedrock", providerErr.Provider)
	}
	if again := p.wrapError(wrapped, "m"); again != wrapped {
		t.Error("wrapping should be idempotent")
	}
}
