package loop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/agentloop/internal/agent"
)

// TerminateArgs is the single required argument the terminate tool accepts:
// the model's final answer. The JSON schema the LLM sees is generated from
// this struct rather than hand-written, so the two can never drift apart.
type TerminateArgs struct {
	Output string `json:"output" jsonschema:"required,description=The final answer to return for this task."`
}

var terminateSchema = mustReflectSchema(&TerminateArgs{})

func mustReflectSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("loop: reflect schema for %T: %v", v, err))
	}
	return data
}

// TerminateTool is the mandatory tool: its successful execution is
// what the loop recognizes as task completion and captures as the session's
// final answer.
type TerminateTool struct{}

// NewTerminateTool builds the mandatory terminate tool.
func NewTerminateTool() *TerminateTool { return &TerminateTool{} }

func (t *TerminateTool) Name() string        { return "terminate" }
func (t *TerminateTool) Description() string { return "Ends the task and records the final answer." }

func (t *TerminateTool) Schema() json.RawMessage { return terminateSchema }

func (t *TerminateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args TerminateArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("terminate: %w", err)
	}
	return &agent.ToolResult{Content: args.Output}, nil
}
