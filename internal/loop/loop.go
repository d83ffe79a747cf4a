// Package loop implements the agent's think-act-critic step machine: a
// bounded step budget, stuck-loop detection, anti-laziness interception
// around the terminate tool, an optional critic pass, and a stream of
// observable events a UI layer can render without polling memory.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/internal/dispatch"
	"github.com/haasonsaas/agentloop/internal/memory"
	"github.com/haasonsaas/agentloop/internal/observability"
	"github.com/haasonsaas/agentloop/internal/sanitize"
	"github.com/haasonsaas/agentloop/pkg/models"
)

// State is the agent's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateError    State = "error"
)

const (
	criticReplyCap               = 300
	antiLazinessInterventionText = "A browser was used but no interaction (click, read, extract, input, or scroll) has happened since. Interact with the page before concluding."
	stuckNudgeText               = "You have repeated the same response without making progress. Try a different approach or use a tool."
)

// Router is the subset of *agent.Router the loop depends on, named so
// tests can substitute a stub.
type Router interface {
	AskTool(ctx context.Context, messages []agent.CompletionMessage, tools []agent.Tool, system string) (*agent.Response, error)
	QuickAsk(ctx context.Context, messages []agent.CompletionMessage, maxTokens int) (string, error)
}

// Config controls the step budget and tool-family policy.
type Config struct {
	MaxSteps int
	Policy   Policy
	System   string

	// PostRun, if set, is invoked exactly once after a run finishes
	// normally (not on error), outside the step budget. It exists for
	// callers that want a knowledge-save pass over the completed
	// conversation; whatever it does, it cannot re-enter the loop.
	PostRun func(ctx context.Context, finalAnswer string, messages []memory.Message)
}

// Loop is one agent instance: single-threaded cooperative, not safe for
// concurrent Run calls, and holding no state shared with any other
// instance.
type Loop struct {
	router     Router
	mem        *memory.Memory
	dispatcher *dispatch.Dispatcher
	registry   *dispatch.Registry
	prompts    PromptProvider
	cfg        Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	events chan Event

	state       State
	step        int
	system      string
	finalAnswer string
	runErr      error
}

// New builds a Loop. If the registry has no "terminate" tool registered,
// the mandatory terminate tool is added automatically.
func New(router Router, mem *memory.Memory, registry *dispatch.Registry, dispatcher *dispatch.Dispatcher, prompts PromptProvider, cfg Config) *Loop {
	if _, ok := registry.Lookup("terminate"); !ok {
		registry.Register(NewTerminateTool(), true)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.Policy.SimpleTools == nil && cfg.Policy.IsBrowserTool == nil && cfg.Policy.IsInteractionCall == nil {
		cfg.Policy = DefaultPolicy()
	}
	if prompts == nil {
		prompts = NoPrompt{}
	}

	return &Loop{
		router:     router,
		mem:        mem,
		dispatcher: dispatcher,
		registry:   registry,
		prompts:    prompts,
		cfg:        cfg,
		state:      StateIdle,
	}
}

// WithLogger attaches a structured logger. Without one the loop stays
// silent; events remain the primary observability surface.
func (l *Loop) WithLogger(logger *observability.Logger) *Loop {
	l.logger = logger
	return l
}

// WithMetrics attaches a Prometheus metrics sink for step, tool, stuck, and
// run-outcome accounting.
func (l *Loop) WithMetrics(m *observability.Metrics) *Loop {
	l.metrics = m
	return l
}

// WithTracer attaches an OpenTelemetry tracer; each think step and tool
// execution gets its own span.
func (l *Loop) WithTracer(t *observability.Tracer) *Loop {
	l.tracer = t
	return l
}

// WithEvents attaches a buffered event channel the loop publishes to for
// the remainder of its lifetime. Must be called before Run.
func (l *Loop) WithEvents(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	l.events = make(chan Event, buffer)
	return l.events
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State { return l.state }

// FinalAnswer returns the captured final answer, if any.
func (l *Loop) FinalAnswer() string { return l.finalAnswer }

// Step returns the number of think steps taken so far.
func (l *Loop) Step() int { return l.step }

// Run pushes request (if non-empty) as a user message and drives the
// think-act-critic loop until termination or the step budget is exhausted.
// At most one terminal transition happens per call.
func (l *Loop) Run(ctx context.Context, request string) error {
	if l.state == StateRunning {
		return fmt.Errorf("loop: already running")
	}

	if request != "" {
		l.mem.Add(memory.NewUserMessage(request))
	}
	l.system = l.buildSystemPrompt()
	l.state = StateRunning
	l.emit(Event{Kind: EventStatus, Payload: "running"})

	for l.step < l.cfg.MaxSteps && l.state == StateRunning {
		if ctx.Err() != nil {
			l.state = StateError
			l.runErr = &agent.LoopError{Phase: agent.PhaseThink, Step: l.step, Cause: ctx.Err()}
			break
		}

		l.step++
		l.emit(Event{Kind: EventStatus, Payload: "thinking"})
		l.logDebug(ctx, "think step starting")

		stepCtx := ctx
		endSpan := func() {}
		if l.tracer != nil {
			c, span := l.tracer.TraceStep(ctx, l.step)
			stepCtx = c
			endSpan = func() { span.End() }
		}

		stepStart := time.Now()
		l.mem.Summarize(stepCtx, l.router)
		l.maybePrependPrompt(stepCtx)

		done := l.think(stepCtx)
		if l.metrics != nil {
			l.metrics.RecordStep(time.Since(stepStart).Seconds())
		}
		endSpan()
		if done {
			break
		}
	}

	if l.state == StateRunning {
		// Step budget exhausted: terminal, surfacing whatever final answer
		// (possibly none) was already captured.
		l.state = StateFinished
	}

	if l.metrics != nil {
		l.metrics.RecordRunOutcome(string(l.state))
	}
	if l.logger != nil {
		if l.state == StateError {
			l.logger.Warn(ctx, "agent session ended in error", "steps", l.step, "error", l.runErr)
		} else {
			l.logger.Info(ctx, "agent session finished", "steps", l.step)
		}
	}

	l.emit(Event{Kind: EventFinal, Payload: l.finalAnswer})

	if l.cfg.PostRun != nil && l.state == StateFinished {
		l.cfg.PostRun(ctx, l.finalAnswer, l.mem.Messages())
	}

	return l.runErr
}

// buildSystemPrompt merges the configured system prompt with the
// instruction blocks of any registered tools that carry one.
func (l *Loop) buildSystemPrompt() string {
	parts := make([]string, 0, 4)
	if l.cfg.System != "" {
		parts = append(parts, l.cfg.System)
	}
	parts = append(parts, l.registry.Instructions()...)
	return strings.Join(parts, "\n\n")
}

func (l *Loop) logDebug(ctx context.Context, msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(observability.AddStep(ctx, l.step), msg, args...)
	}
}

// think runs exactly one think-act-critic step and reports whether the
// loop should stop iterating (a terminal state was reached).
func (l *Loop) think(ctx context.Context) bool {
	tools := l.registry.Tools()
	resp, err := l.router.AskTool(ctx, l.mem.Serialize(), tools, l.system)
	if err != nil {
		l.mem.Add(memory.NewAssistantMessage(fmt.Sprintf("I was unable to reach any provider: %v", err), nil))
		l.state = StateError
		l.runErr = &agent.LoopError{Phase: agent.PhaseThink, Step: l.step, Cause: err}
		if l.metrics != nil {
			l.metrics.RecordError("loop", "providers_exhausted")
		}
		return true
	}

	content := sanitize.Clean(resp.Content)
	calls := toMemoryToolCalls(resp.ToolCalls)
	l.mem.Add(memory.NewAssistantMessage(content, calls))
	l.emit(Event{Kind: EventContent, Payload: content})

	if len(calls) == 0 {
		// A think step producing neither content nor tool calls, or plain
		// content with none, both mean the model is done.
		l.state = StateFinished
		l.finalAnswer = content
		return true
	}

	lastTool := l.act(ctx, calls)

	if l.state == StateFinished {
		return true
	}

	if !l.cfg.Policy.isSimple(lastTool) {
		l.runCritic(ctx)
	}

	if isStuck(l.mem.Messages()) {
		if l.metrics != nil {
			l.metrics.RecordStuckDetection()
		}
		l.mem.Add(memory.NewSystemMessage(stuckNudgeText))
	}

	return false
}

// act dispatches every tool call from the preceding think step, in order,
// committing each result to memory before the next call runs (ordering
// guarantee). It returns the name of the last tool actually dispatched.
func (l *Loop) act(ctx context.Context, calls []memory.ToolCall) string {
	lastTool := ""
	for _, call := range calls {
		lastTool = call.Function.Name

		if call.Function.Name == "terminate" && l.cfg.Policy.antiLazinessTrips(l.mem.Messages()) {
			l.mem.Add(memory.NewToolMessage(call.Function.Name, call.ID, antiLazinessInterventionText))
			continue
		}

		l.emit(Event{Kind: EventToolStarted, Payload: ToolStartedPayload{CallID: call.ID, Name: call.Function.Name}})

		toolCtx := ctx
		endSpan := func() {}
		if l.tracer != nil {
			c, span := l.tracer.TraceToolExecution(ctx, call.Function.Name)
			toolCtx = c
			endSpan = func() { span.End() }
		}

		toolStart := time.Now()
		result := l.dispatcher.Execute(toolCtx, call.Function.Name, json.RawMessage(call.Function.Arguments))
		endSpan()
		if l.metrics != nil {
			status := "success"
			if result.IsError {
				status = "error"
			}
			l.metrics.RecordToolExecution(call.Function.Name, status, time.Since(toolStart).Seconds())
		}

		l.mem.Add(memory.NewToolMessage(call.Function.Name, call.ID, stringifyResult(result)))
		l.emit(Event{Kind: EventToolFinished, Payload: ToolFinishedPayload{
			CallID:  call.ID,
			Name:    call.Function.Name,
			Content: result.Content,
			IsError: result.IsError,
		}})

		if call.Function.Name == "terminate" && !result.IsError {
			l.finalAnswer = result.Content
			l.state = StateFinished
		}
	}
	return lastTool
}

// runCritic issues one no-tools quick_ask judging whether the last act
// made sufficient progress, appending the critique to memory if not.
func (l *Loop) runCritic(ctx context.Context) {
	prompt := buildCriticPrompt(l.mem.Messages())
	reply, err := l.router.QuickAsk(ctx, []agent.CompletionMessage{{Role: "user", Content: prompt}}, 150)
	if err != nil {
		// Critic failure is non-fatal: skip it and let the loop continue.
		return
	}
	reply = sanitize.Clean(reply)
	if len(reply) > criticReplyCap {
		reply = reply[:criticReplyCap]
	}
	if !strings.Contains(strings.ToUpper(reply), "PROCEED") {
		l.mem.Add(memory.NewUserMessage("Critic feedback: " + reply))
	}
}

func buildCriticPrompt(messages []memory.Message) string {
	const tail = 6
	start := 0
	if len(messages) > tail {
		start = len(messages) - tail
	}
	var b strings.Builder
	b.WriteString("Judge whether the assistant's recent progress below is sufficient to continue toward the task's goal. Reply with the single word PROCEED if it is, or a short critique otherwise.\n")
	for _, msg := range messages[start:] {
		if msg.ContentString() == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", msg.Role, msg.ContentString())
	}
	return b.String()
}

// maybePrependPrompt injects the next-step prompt as a user message unless
// it would duplicate the immediately preceding message.
func (l *Loop) maybePrependPrompt(ctx context.Context) {
	prompt := l.prompts.NextStepPrompt(ctx, l.mem.Messages())
	if prompt == "" {
		return
	}
	msgs := l.mem.Messages()
	if len(msgs) > 0 && msgs[len(msgs)-1].ContentString() == prompt {
		return
	}
	l.mem.Add(memory.NewUserMessage(prompt))
}

// stringifyResult renders a dispatcher result as the text recorded in the
// tool-role message, marking error results so the model can self-correct.
func stringifyResult(result *agent.ToolResult) string {
	if result == nil {
		return ""
	}
	if result.IsError {
		return "Error: " + result.Content
	}
	return result.Content
}

// toMemoryToolCalls converts the router's wire-level tool calls into the
// canonical memory representation, defaulting empty arguments to "{}" so
// Memory's dedup and serialization never see an empty JSON payload.
func toMemoryToolCalls(calls []models.ToolCall) []memory.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]memory.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := string(c.Input)
		if args == "" {
			args = "{}"
		}
		out = append(out, memory.NewToolCall(c.ID, c.Name, args))
	}
	return out
}
