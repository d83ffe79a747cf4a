package loop

import (
	"strings"

	"github.com/haasonsaas/agentloop/internal/memory"
)

// defaultSimpleTools names the tools cheap enough that the critic pass is
// skipped after they run (glossary: "simple tool").
var defaultSimpleTools = map[string]bool{
	"search":     true,
	"calculator": true,
	"planner":    true,
	"terminate":  true,
}

// defaultInteractionKeywords are the argument substrings that mark a
// browser tool call as an interaction rather than pure navigation.
var defaultInteractionKeywords = []string{"click", "read", "extract", "input", "scroll"}

// Policy configures the loop's tool-family heuristics: which tools skip
// the critic, and which count as a "browser" for the anti-laziness check.
// Both are overridable so a caller can generalize the hook to other tool
// families, as the design notes invite.
type Policy struct {
	SimpleTools       map[string]bool
	IsBrowserTool     func(name string) bool
	IsInteractionCall func(name, argumentsJSON string) bool
}

// DefaultPolicy returns the stock policy:
// search/calculator/planner/terminate are simple tools, and any tool whose
// name contains "browser" is treated as a browser call.
func DefaultPolicy() Policy {
	return Policy{
		SimpleTools:       defaultSimpleTools,
		IsBrowserTool:     func(name string) bool { return strings.Contains(strings.ToLower(name), "browser") },
		IsInteractionCall: isInteractionCall,
	}
}

func isInteractionCall(name, argumentsJSON string) bool {
	lower := strings.ToLower(argumentsJSON)
	for _, kw := range defaultInteractionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (p Policy) isSimple(name string) bool {
	if p.SimpleTools == nil {
		return defaultSimpleTools[name]
	}
	return p.SimpleTools[name]
}

// antiLazinessTrips scans the last ten messages for a browser tool call
// with no subsequent interaction-class browser action.
func (p Policy) antiLazinessTrips(messages []memory.Message) bool {
	const window = 10
	start := 0
	if len(messages) > window {
		start = len(messages) - window
	}

	pending := false
	for _, msg := range messages[start:] {
		if msg.Role != memory.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls {
			if !p.isBrowserTool(call.Function.Name) {
				continue
			}
			if p.isInteraction(call.Function.Name, call.Function.Arguments) {
				pending = false
			} else {
				pending = true
			}
		}
	}
	return pending
}

func (p Policy) isBrowserTool(name string) bool {
	if p.IsBrowserTool == nil {
		return strings.Contains(strings.ToLower(name), "browser")
	}
	return p.IsBrowserTool(name)
}

func (p Policy) isInteraction(name, argumentsJSON string) bool {
	if p.IsInteractionCall == nil {
		return isInteractionCall(name, argumentsJSON)
	}
	return p.IsInteractionCall(name, argumentsJSON)
}

// isStuck reports whether the last four messages contain at least two
// assistant messages with identical, non-empty textual content.
func isStuck(messages []memory.Message) bool {
	const window = 4
	start := 0
	if len(messages) > window {
		start = len(messages) - window
	}

	seen := make(map[string]int)
	for _, msg := range messages[start:] {
		if msg.Role != memory.RoleAssistant {
			continue
		}
		content := msg.ContentString()
		if content == "" {
			continue
		}
		seen[content]++
		if seen[content] >= 2 {
			return true
		}
	}
	return false
}
