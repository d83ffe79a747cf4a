package memory

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/haasonsaas/agentloop/pkg/models"
)

// toModelToolCall renders a canonical ToolCall as the wire-level shape the
// providers already know how to serialize.
func toModelToolCall(tc ToolCall) models.ToolCall {
	var input json.RawMessage
	if tc.Function.Arguments != "" {
		input = json.RawMessage(tc.Function.Arguments)
	} else {
		input = json.RawMessage("{}")
	}
	return models.ToolCall{
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: input,
	}
}

// imageAttachment renders raw image bytes as the data-URL attachment shape
// the provider adapters decode, sniffing the media type from the bytes.
func imageAttachment(image []byte) models.Attachment {
	mime := http.DetectContentType(image)
	return models.Attachment{
		Type:     "image",
		MimeType: mime,
		URL:      "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image),
	}
}

// toModelToolResult renders a tool-role Message as the wire-level
// ToolResult the providers attach to the preceding assistant turn.
func toModelToolResult(msg Message) models.ToolResult {
	return models.ToolResult{
		ToolCallID: msg.ToolCallID,
		Content:    msg.ContentString(),
	}
}
