package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentloop/internal/agent"
)

// PlannerTool splits a goal description into a numbered list of steps, one
// per sentence or newline-separated clause. It does not call an LLM: it is
// the cheap, deterministic planning aid the loop's policy treats as a
// "simple" tool that never needs a critic pass.
type PlannerTool struct{}

// NewPlannerTool creates a new planner tool.
func NewPlannerTool() *PlannerTool { return &PlannerTool{} }

func (t *PlannerTool) Name() string { return "planner" }

func (t *PlannerTool) Description() string {
	return "Breaks a goal description into a numbered list of steps"
}

func (t *PlannerTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"goal": {
				"type": "string",
				"description": "The goal to break down into steps"
			}
		},
		"required": ["goal"]
	}`)
}

// PlannerInput is the planner tool's input.
type PlannerInput struct {
	Goal string `json:"goal"`
}

func (t *PlannerTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input PlannerInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("planner: parse input: %w", err)
	}
	if strings.TrimSpace(input.Goal) == "" {
		return &agent.ToolResult{Content: "goal is required", IsError: true}, nil
	}

	steps := splitSteps(input.Goal)
	var b strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// splitSteps breaks goal on newlines first, then on '.' and ';' within
// each line, trimming whitespace and dropping empties.
func splitSteps(goal string) []string {
	var steps []string
	for _, line := range strings.Split(goal, "\n") {
		for _, clause := range strings.FieldsFunc(line, func(r rune) bool {
			return r == '.' || r == ';'
		}) {
			clause = strings.TrimSpace(clause)
			if clause != "" {
				steps = append(steps, clause)
			}
		}
	}
	if len(steps) == 0 {
		steps = []string{strings.TrimSpace(goal)}
	}
	return steps
}
