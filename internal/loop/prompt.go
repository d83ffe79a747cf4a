package loop

import (
	"context"

	"github.com/haasonsaas/agentloop/internal/memory"
)

// PromptProvider supplies the next-step prompt text the loop prepends as a
// user message before each think call. The core treats the text as opaque:
// it owns none of the planning or anti-chatter language, only the
// mechanics of when to inject it.
type PromptProvider interface {
	// NextStepPrompt returns the prompt to prepend before the next think
	// call, given the current conversation. An empty return means "inject
	// nothing this step".
	NextStepPrompt(ctx context.Context, messages []memory.Message) string
}

// NoPrompt is the zero-behavior PromptProvider: it never injects anything,
// for callers that have no mandatory-planning text to enforce.
type NoPrompt struct{}

// NextStepPrompt implements PromptProvider.
func (NoPrompt) NextStepPrompt(ctx context.Context, messages []memory.Message) string { return "" }
