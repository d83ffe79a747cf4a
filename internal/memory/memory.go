// Package memory holds the ordered conversation log the agent loop reads
// and writes each step: deduplication on add, a hard size bound, and
// cost-aware summarization that collapses old turns into one synthetic
// message before the log is handed to the LLM router.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/internal/observability"
	"github.com/haasonsaas/agentloop/internal/sanitize"
)

const (
	// defaultKeepRecent is K from the design note: the number of trailing
	// non-system messages summarization always keeps verbatim.
	defaultKeepRecent = 8

	// summaryCharCap bounds the synthetic summary message's length.
	summaryCharCap = 500

	// prefixContentCap bounds how much of each prefix message's content is
	// fed into the summarization prompt.
	prefixContentCap = 200
)

// QuickAsker is the subset of the Router the memory package depends on for
// summarization: one no-tools completion used to compress old context.
type QuickAsker interface {
	QuickAsk(ctx context.Context, messages []agent.CompletionMessage, maxTokens int) (string, error)
}

// Memory is the ordered conversation log for a single agent instance. Not
// safe to share across agent instances; safe for the single-threaded
// cooperative access pattern of one loop plus any goroutine reading a
// snapshot via Messages().
type Memory struct {
	mu sync.Mutex

	messages []Message

	maxMessages      int
	summaryThreshold int
	keepRecent       int

	metrics *observability.Metrics
}

// Config controls Memory's size policy.
type Config struct {
	MaxMessages      int
	SummaryThreshold int
	KeepRecent       int
}

// New creates a Memory governed by cfg. KeepRecent defaults to 8 if unset.
func New(cfg Config) *Memory {
	keep := cfg.KeepRecent
	if keep <= 0 {
		keep = defaultKeepRecent
	}
	return &Memory{
		maxMessages:      cfg.MaxMessages,
		summaryThreshold: cfg.SummaryThreshold,
		keepRecent:       keep,
	}
}

// WithMetrics attaches a Prometheus metrics sink for summarization
// accounting.
func (m *Memory) WithMetrics(metrics *observability.Metrics) *Memory {
	m.metrics = metrics
	return m
}

// Add appends msg, dropping it as a no-op if it duplicates the immediately
// preceding message (same role and content, neither carrying tool calls).
// If the log exceeds 2×max_messages afterward, it is emergency-truncated to
// all system messages plus the last max_messages non-system messages.
func (m *Memory) Add(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.messages); n > 0 && m.messages[n-1].sameAs(msg) {
		return
	}

	m.messages = append(m.messages, msg)

	if m.maxMessages > 0 && len(m.messages) > 2*m.maxMessages {
		m.messages = emergencyTruncate(m.messages, m.maxMessages)
	}
}

// emergencyTruncate keeps every system message plus the last keep
// non-system messages, in original relative order.
func emergencyTruncate(messages []Message, keep int) []Message {
	var system []Message
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	return append(system, rest...)
}

// Len returns the number of messages currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Messages returns a copy of the current log, in order.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Summarize compresses the log if it has grown past summary_threshold. It
// preserves all system messages and the tail of keepRecent messages
// verbatim; everything between becomes a single synthetic summary message.
// Summarization never fails the caller: if the quick-ask call errors, the
// log falls back to a plain sliding-window truncation instead.
func (m *Memory) Summarize(ctx context.Context, asker QuickAsker) {
	m.mu.Lock()
	if m.summaryThreshold <= 0 || len(m.messages) <= m.summaryThreshold {
		m.mu.Unlock()
		return
	}
	messages := append([]Message(nil), m.messages...)
	keep := m.keepRecent
	m.mu.Unlock()

	system, prefix, tail := splitForSummary(messages, keep)
	if len(prefix) == 0 {
		return
	}

	summary, err := summarizeWith(ctx, asker, prefix)
	if m.metrics != nil {
		m.metrics.RecordSummarization(err != nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// Fall back to sliding-window truncation: drop the prefix outright.
		m.messages = append(append([]Message{}, system...), tail...)
		return
	}

	summaryMsg := NewSystemMessage(fmt.Sprintf("[summary of %d earlier messages] %s", len(prefix), capString(summary, summaryCharCap)))
	m.messages = append(append(append([]Message{}, system...), summaryMsg), tail...)
}

// splitForSummary partitions messages into system messages (order
// preserved), the compactable prefix, and the trailing keep messages.
func splitForSummary(messages []Message, keep int) (system, prefix, tail []Message) {
	var nonSystem []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			nonSystem = append(nonSystem, msg)
		}
	}
	if len(nonSystem) <= keep {
		return system, nil, nonSystem
	}
	split := len(nonSystem) - keep
	return system, nonSystem[:split], nonSystem[split:]
}

// summarizeWith builds a compact textual prompt from prefix and asks the
// router to compress it in one no-tools call.
func summarizeWith(ctx context.Context, asker QuickAsker, prefix []Message) (string, error) {
	prompt := buildSummaryPrompt(prefix)
	req := []agent.CompletionMessage{
		{Role: "user", Content: prompt},
	}
	return asker.QuickAsk(ctx, req, 256)
}

// buildSummaryPrompt renders prefix as a short labelled transcript: each
// message's content truncated to a modest prefix, tool-call turns reduced
// to the tool names involved.
func buildSummaryPrompt(prefix []Message) string {
	out := "Summarize the following conversation segment in under 500 characters, preserving decisions and facts:\n"
	for _, msg := range prefix {
		label := string(msg.Role)
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, c := range msg.ToolCalls {
				names = append(names, c.Function.Name)
			}
			out += fmt.Sprintf("- %s called: %v\n", label, names)
			continue
		}
		out += fmt.Sprintf("- %s: %s\n", label, capString(msg.ContentString(), prefixContentCap))
	}
	return out
}

func capString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Serialize produces the provider-ready canonical form of the log:
// sanitized content, tool calls reduced to their minimal shape, and
// assistant turns with tool calls carrying null content per the wire
// contract. The Router's own message-shaping step (vision, per-provider
// turn grouping) runs downstream of this.
func (m *Memory) Serialize() []agent.CompletionMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]agent.CompletionMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, toCompletionMessage(msg))
	}
	return out
}

func toCompletionMessage(msg Message) agent.CompletionMessage {
	cm := agent.CompletionMessage{
		Role: string(msg.Role),
	}
	if msg.Content != nil {
		cm.Content = sanitize.Clean(*msg.Content)
	}
	if len(msg.ToolCalls) > 0 {
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, toModelToolCall(tc))
		}
	}
	if msg.Role == RoleTool {
		cm.ToolResults = append(cm.ToolResults, toModelToolResult(msg))
	}
	if len(msg.Image) > 0 {
		cm.Attachments = append(cm.Attachments, imageAttachment(msg.Image))
	}
	return cm
}
