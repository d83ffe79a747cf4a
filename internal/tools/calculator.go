// Package tools holds the built-in, dependency-free tools the agent loop
// registers by default: calculator and planner, the two "simple" tools
// named in the loop's anti-critic policy alongside search and terminate.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"

	"github.com/haasonsaas/agentloop/internal/agent"
)

// CalculatorTool evaluates a single arithmetic expression. It exists so the
// loop always has at least one cheap, side-effect-free tool available
// without requiring any external service.
type CalculatorTool struct{}

// NewCalculatorTool creates a new calculator tool.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Evaluates a single arithmetic expression, e.g. \"(3 + 4) * 2\""
}

func (t *CalculatorTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {
				"type": "string",
				"description": "An arithmetic expression using +, -, *, /, and parentheses"
			}
		},
		"required": ["expression"]
	}`)
}

// CalculatorInput is the calculator tool's input.
type CalculatorInput struct {
	Expression string `json:"expression"`
}

// Execute rejects function calls up front (go/types would otherwise fold
// built-ins such as len of a constant string), then evaluates the
// expression with go/types' constant evaluator, which rejects anything
// else that isn't a constant expression, such as variables.
func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input CalculatorInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("calculator: parse input: %w", err)
	}
	if input.Expression == "" {
		return &agent.ToolResult{Content: "expression is required", IsError: true}, nil
	}

	if expr, perr := parser.ParseExpr(input.Expression); perr == nil {
		hasCall := false
		ast.Inspect(expr, func(n ast.Node) bool {
			_, isCall := n.(*ast.CallExpr)
			hasCall = hasCall || isCall
			return !hasCall
		})
		if hasCall {
			return &agent.ToolResult{Content: "invalid expression: function calls are not allowed", IsError: true}, nil
		}
	}

	fset := token.NewFileSet()
	tv, err := types.Eval(fset, nil, token.NoPos, input.Expression)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid expression: %v", err), IsError: true}, nil
	}
	if tv.Value == nil {
		return &agent.ToolResult{Content: "expression did not evaluate to a constant", IsError: true}, nil
	}
	return &agent.ToolResult{Content: tv.Value.ExactString()}, nil
}
