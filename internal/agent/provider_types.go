package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentloop/pkg/models"
)

// LLMProvider is implemented by each backend adapter in internal/agent/providers.
// Implementations must be safe for concurrent use: the Router may call
// Complete on the same provider from multiple goroutines for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest is a single turn sent to an LLMProvider: the
// conversation so far, the tools available this turn, and generation limits.
type CompletionRequest struct {
	// Model selects the backend model. Empty uses the provider's default.
	Model string `json:"model"`

	// System is the system prompt, passed separately from Messages because
	// most provider APIs treat it that way.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools are the functions the model may call this turn.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the generated response. 0 uses the provider's default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn of the conversation: user/assistant text,
// an assistant's tool calls, a tool's results, or vision attachments.
// Role is "system", "user", "assistant", or "tool".
type CompletionMessage struct {
	// Role indicates who sent the message: "system", "user", "assistant", or "tool"
	Role string `json:"role"`

	// Content is the text content of the message (may be empty for tool-only messages)
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`

	// Attachments contains images or files for vision-capable models
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one item on a provider's response channel: partial
// text, a completed tool call, a terminal Done, or an Error that ends the
// stream.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// InputTokens/OutputTokens are populated only on the final (Done) chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes one model a provider can serve.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool is implemented by anything the agent loop can offer the model as a
// function call: a name and JSON schema for the model, and Execute to run it.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool does.
	// This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	// The LLM uses this to construct valid tool call arguments.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	// The params match the schema returned by Schema().
	// Returns the tool output or an error.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// Instructor is optionally implemented by a Tool that carries free-text
// guidance for the model beyond its schema. The loop merges each block
// into the system prompt once at run start.
type Instructor interface {
	Instructions() string
}

// Cleaner is optionally implemented by a Tool holding external resources
// (a browser session, an open connection). Registry.Cleanup invokes it
// when the embedding process shuts the agent down.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// ToolResult is what a Tool.Execute call returns: its output, and whether
// that output represents an error the model should see and react to.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
