package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentloop/internal/cache"
	"github.com/haasonsaas/agentloop/internal/observability"
	"github.com/haasonsaas/agentloop/internal/retry"
	"github.com/haasonsaas/agentloop/internal/sanitize"
	"github.com/haasonsaas/agentloop/internal/usage"
	"github.com/haasonsaas/agentloop/pkg/models"
)

// ProviderEntry binds an LLMProvider backend to the model it should be
// called with and the cost score used to order backups.
type ProviderEntry struct {
	Provider  LLMProvider
	Model     string
	CostScore float64
}

// RouterConfig controls the Router's response cache.
type RouterConfig struct {
	CacheEnabled  bool
	CacheCapacity int
	MaxTokens     int
}

// Response is a completed, non-streaming turn from the Router: assistant
// content and/or tool calls, attributed to whichever provider answered.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall
	Provider  string
	Usage     usage.Usage
}

// Router is the LLM client the rest of the runtime talks to: primary plus
// ordered backups, failover on transient error with per-provider circuit
// breaking, streaming and non-streaming completions, a FIFO response
// cache, and usage accounting.
type Router struct {
	entries     []ProviderEntry // [0] is primary; rest sorted ascending by CostScore
	cache       *cache.FIFO
	tracker     *usage.Tracker
	health      *healthTracker
	metrics     *observability.Metrics
	retryConfig retry.Config
	maxTokens   int
}

// NewRouter builds a Router from a primary provider and zero or more
// backups, sorted ascending by cost score so failover prefers the cheapest
// viable fallback first.
func NewRouter(primary ProviderEntry, backups []ProviderEntry, cfg RouterConfig, tracker *usage.Tracker) *Router {
	sorted := append([]ProviderEntry{}, backups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CostScore < sorted[j].CostScore })

	capacity := cfg.CacheCapacity
	if !cfg.CacheEnabled {
		capacity = 0
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Router{
		entries:     append([]ProviderEntry{primary}, sorted...),
		cache:       cache.NewFIFO(capacity),
		tracker:     tracker,
		health:      newHealthTracker(DefaultHealthConfig()),
		retryConfig: retry.Exponential(3, 2*time.Second, 15*time.Second),
		maxTokens:   maxTokens,
	}
}

// WithMetrics attaches a Prometheus metrics sink. Without one the Router
// records nothing.
func (r *Router) WithMetrics(m *observability.Metrics) *Router {
	r.metrics = m
	return r
}

// ProviderStates returns a health snapshot of every provider that has
// failed at least once, for diagnostics.
func (r *Router) ProviderStates() []ProviderState {
	return r.health.snapshot()
}

// ResetCircuit closes the circuit for one provider, or for all providers
// when name is empty.
func (r *Router) ResetCircuit(name string) {
	r.health.reset(name)
}

// AskTool performs a non-streaming completion, trying the cache first, then
// the primary provider, then backups in cost order on transient error.
func (r *Router) AskTool(ctx context.Context, messages []CompletionMessage, tools []Tool, system string) (*Response, error) {
	key := cacheKey(messages, len(tools))
	if cached, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.RecordCacheLookup(true)
		}
		resp := cached.(Response)
		return &resp, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheLookup(false)
	}

	resp, err := r.dispatch(ctx, messages, tools, system, r.maxTokens)
	if err != nil {
		return nil, err
	}

	r.recordUsage(resp)
	r.cache.Set(key, *resp)
	return resp, nil
}

// AskToolStream performs a streaming completion and yields the provider's
// raw chunk stream, never consulting or populating the cache. It walks the
// providers once in order, moving to the next only when opening a stream
// fails with a retryable or failover-worthy error; unlike AskTool it does
// not retry a provider, consult circuit-breaker health, or fail over on
// errors that arrive inside an already-opened stream.
func (r *Router) AskToolStream(ctx context.Context, messages []CompletionMessage, tools []Tool, system string) (<-chan *CompletionChunk, error) {
	var lastErr error
	for _, entry := range r.entries {
		req := r.buildRequest(entry, messages, tools, system, r.maxTokens)
		ch, err := entry.Provider.Complete(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !isProviderRetryable(err) && !shouldProviderFailover(err) {
			return nil, err
		}
	}
	return nil, firstNonNil(lastErr, ErrNoProvider)
}

// QuickAsk performs a no-tools completion, used for summarization and the
// critic pass. It satisfies memory.QuickAsker.
func (r *Router) QuickAsk(ctx context.Context, messages []CompletionMessage, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	resp, err := r.dispatch(ctx, messages, nil, "", maxTokens)
	if err != nil {
		return "", err
	}
	r.recordUsage(resp)
	return sanitize.Clean(resp.Content), nil
}

// dispatch walks providers in order, retrying transient errors on each
// before failing over to the next. Providers whose circuit is open are
// skipped on the first pass; if that rules everyone out, a second pass
// ignores health so a fully-broken fleet still gets one real attempt.
func (r *Router) dispatch(ctx context.Context, messages []CompletionMessage, tools []Tool, system string, maxTokens int) (*Response, error) {
	resp, attempted, err := r.walkEntries(ctx, messages, tools, system, maxTokens, true)
	if err == nil && resp != nil {
		return resp, nil
	}
	if !attempted {
		resp, _, err = r.walkEntries(ctx, messages, tools, system, maxTokens, false)
		if err == nil && resp != nil {
			return resp, nil
		}
	}
	if err != nil && !isProviderRetryable(err) && !shouldProviderFailover(err) {
		return nil, err
	}
	return nil, fmt.Errorf("router: all providers exhausted: %w", firstNonNil(err, ErrNoProvider))
}

// walkEntries tries each provider entry in order, honoring circuit-breaker
// state when respectHealth is set. It reports whether any entry was
// actually attempted so the caller can distinguish "everyone failed" from
// "everyone was skipped".
func (r *Router) walkEntries(ctx context.Context, messages []CompletionMessage, tools []Tool, system string, maxTokens int, respectHealth bool) (*Response, bool, error) {
	var lastErr error
	attempted := false
	failedOver := ""

	for _, entry := range r.entries {
		name := entry.Provider.Name()
		if respectHealth && !r.health.available(name) {
			continue
		}

		if r.metrics != nil && failedOver != "" {
			r.metrics.RecordFailover(failedOver, name, classifyProviderError(lastErr))
		}

		attempted = true
		req := r.buildRequest(entry, messages, tools, system, maxTokens)
		start := time.Now()
		resp, err := r.tryEntry(ctx, entry, req)
		if err == nil {
			r.health.recordSuccess(name)
			if r.metrics != nil {
				r.metrics.RecordLLMRequest(name, entry.Model, "success", time.Since(start).Seconds(),
					int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
			}
			return resp, true, nil
		}

		r.health.recordFailure(name)
		if r.metrics != nil {
			r.metrics.RecordLLMRequest(name, entry.Model, "error", time.Since(start).Seconds(), 0, 0)
		}
		lastErr = err
		failedOver = name
		if !isProviderRetryable(err) && !shouldProviderFailover(err) {
			return nil, true, fmt.Errorf("router: provider %s: %w", name, err)
		}
	}
	return nil, attempted, lastErr
}

func (r *Router) buildRequest(entry ProviderEntry, messages []CompletionMessage, tools []Tool, system string, maxTokens int) *CompletionRequest {
	return &CompletionRequest{
		Model:     entry.Model,
		System:    system,
		Messages:  shapeMessages(messages, entry.Model),
		Tools:     tools,
		MaxTokens: maxTokens,
	}
}

// tryEntry retries req against one provider with capped exponential
// backoff for transient errors, stopping immediately on a non-transient one.
func (r *Router) tryEntry(ctx context.Context, entry ProviderEntry, req *CompletionRequest) (*Response, error) {
	value, result := retry.DoWithValue(ctx, r.retryConfig, func() (*Response, error) {
		ch, err := entry.Provider.Complete(ctx, req)
		if err != nil {
			if !isProviderRetryable(err) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		resp, derr := drainChunks(ch, entry.Provider.Name())
		if derr != nil {
			if !isProviderRetryable(derr) {
				return nil, retry.Permanent(derr)
			}
			return nil, derr
		}
		return resp, nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return value, nil
}

func (r *Router) recordUsage(resp *Response) {
	if r.tracker == nil || resp == nil {
		return
	}
	r.tracker.Record(usage.Record{
		Provider: resp.Provider,
		Usage:    resp.Usage,
	})
}

// drainChunks collects a completion stream into a single aggregated
// Response, as ask_tool requires.
func drainChunks(ch <-chan *CompletionChunk, providerName string) (*Response, error) {
	var content strings.Builder
	var calls []models.ToolCall
	var inTok, outTok int

	for chunk := range ch {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			content.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			call := *chunk.ToolCall
			if call.ID == "" {
				// Not every provider echoes a stable call id (the Gemini
				// adapter leaves it empty); synthesize one so the
				// loop always has something to pair a tool result to.
				call.ID = uuid.NewString()
			}
			calls = append(calls, call)
		}
		if chunk.Done {
			inTok = chunk.InputTokens
			outTok = chunk.OutputTokens
		}
	}

	return &Response{
		Content:   content.String(),
		ToolCalls: calls,
		Provider:  providerName,
		Usage: usage.Usage{
			InputTokens:  int64(inTok),
			OutputTokens: int64(outTok),
		},
	}, nil
}

// visionModelSubstrings lists the model-name fragments the Router
// recognizes as vision-capable. This is the heuristic the design notes
// flag as a known limitation: a capability flag on ProviderConfig would be
// preferable to substring matching, but no such flag is threaded through
// from configuration yet.
var visionModelSubstrings = []string{
	"claude-3", "claude-sonnet-4", "claude-opus-4",
	"gpt-4o", "gpt-4-vision", "gpt-4.1",
	"gemini",
}

func isVisionModel(model string) bool {
	lower := strings.ToLower(model)
	for _, s := range visionModelSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// shapeMessages applies the Router's outbound message shaping:
// sanitizing text content and dropping image attachments for models that
// are not known to be vision-capable. Tool-call serialization is already
// minimal by construction (models.ToolCall), and an assistant turn with
// tool calls and no text already carries an empty Content string, which
// every provider in this codebase treats as absent — the Go equivalent of
// a null content field.
func shapeMessages(messages []CompletionMessage, model string) []CompletionMessage {
	out := make([]CompletionMessage, len(messages))
	vision := isVisionModel(model)
	for i, msg := range messages {
		shaped := msg
		shaped.Content = sanitize.Clean(msg.Content)
		if !vision {
			shaped.Attachments = nil
		}
		out[i] = shaped
	}
	return out
}

// cacheKey derives the Router's response-cache key from a bounded
// fingerprint of the tail of the conversation plus the tool-set size, per
// the last three messages' content (prefix-truncated), concatenated
// and hashed.
func cacheKey(messages []CompletionMessage, toolCount int) string {
	const tailLen = 3
	const perMessageCap = 300

	start := 0
	if len(messages) > tailLen {
		start = len(messages) - tailLen
	}

	h := sha256.New()
	for _, msg := range messages[start:] {
		content := msg.Content
		if len(content) > perMessageCap {
			content = content[:perMessageCap]
		}
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(content))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "tools:%d", toolCount)
	return hex.EncodeToString(h.Sum(nil))
}

func firstNonNil(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
