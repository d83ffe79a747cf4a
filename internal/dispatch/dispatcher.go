package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/internal/cache"
	"github.com/haasonsaas/agentloop/internal/observability"
	"github.com/haasonsaas/agentloop/internal/retry"
)

// Config controls the dispatcher's retry, truncation, and caching policy.
type Config struct {
	MaxResultLen  int
	TruncateKeep  int
	MaxRetries    int
	RetryBackoff  time.Duration
	ToolTimeout   time.Duration
	CacheResults  bool
	CacheCapacity int
}

// DefaultConfig returns the defaults named in the tool dispatcher's design:
// a 10k-char result cap, 4k-char head/tail kept on truncation, two retries
// at a one-second backoff, and a 120-second per-call timeout.
func DefaultConfig() Config {
	return Config{
		MaxResultLen:  10000,
		TruncateKeep:  4000,
		MaxRetries:    2,
		RetryBackoff:  time.Second,
		ToolTimeout:   120 * time.Second,
		CacheResults:  true,
		CacheCapacity: 256,
	}
}

// Dispatcher executes registered tools on the agent loop's behalf. It never
// returns an error from Execute: every failure mode becomes a ToolResult
// with IsError set, which the loop records as a tool-role message.
type Dispatcher struct {
	registry *Registry
	cfg      Config
	cache    *cache.FIFO
	metrics  *observability.Metrics

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// New builds a Dispatcher over registry governed by cfg.
func New(registry *Registry, cfg Config) *Dispatcher {
	capacity := cfg.CacheCapacity
	if !cfg.CacheResults {
		capacity = 0
	}
	return &Dispatcher{
		registry: registry,
		cfg:      cfg,
		cache:    cache.NewFIFO(capacity),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// WithMetrics attaches a Prometheus metrics sink for truncation accounting.
func (d *Dispatcher) WithMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Execute resolves name, validates argumentsJSON against its schema,
// invokes the handler with bounded retry, and returns a normalized,
// truncated result. Steps follow the tool dispatcher's contract exactly.
func (d *Dispatcher) Execute(ctx context.Context, name string, argumentsJSON json.RawMessage) *agent.ToolResult {
	reg, ok := d.registry.Lookup(name)
	if !ok {
		return errorResult(agent.NewToolError(name, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)).WithType(agent.ToolErrorNotFound))
	}

	if len(argumentsJSON) == 0 {
		argumentsJSON = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(argumentsJSON, &decoded); err != nil {
		return errorResult(agent.NewToolError(name, fmt.Errorf("invalid arguments: %w", err)).WithType(agent.ToolErrorInvalidInput))
	}

	if err := d.validate(reg.Tool, decoded); err != nil {
		return errorResult(agent.NewToolError(name, fmt.Errorf("invalid arguments: %w", err)).WithType(agent.ToolErrorInvalidInput))
	}

	cacheKey := name + ":" + string(argumentsJSON)
	cacheable := d.cfg.CacheResults && !reg.SideEffectful
	if cacheable {
		if cached, ok := d.cache.Get(cacheKey); ok {
			result := cached.(agent.ToolResult)
			return &result
		}
	}

	result := d.invokeWithRetry(ctx, reg.Tool, argumentsJSON)
	if truncated := truncate(result.Content, d.cfg.MaxResultLen, d.cfg.TruncateKeep); len(truncated) < len(result.Content) {
		if d.metrics != nil {
			d.metrics.RecordToolResultTruncated(name)
		}
		result.Content = truncated
	}

	if cacheable && !result.IsError {
		d.cache.Set(cacheKey, *result)
	}

	return result
}

// validate checks decoded arguments against the tool's JSON schema,
// compiling and caching the schema on first use per tool name.
func (d *Dispatcher) validate(tool agent.Tool, decoded any) error {
	schema, err := d.compiledSchema(tool)
	if err != nil {
		return err
	}
	return schema.Validate(decoded)
}

func (d *Dispatcher) compiledSchema(tool agent.Tool) (*jsonschema.Schema, error) {
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()

	if s, ok := d.schemas[tool.Name()]; ok {
		return s, nil
	}

	compiled, err := jsonschema.CompileString(tool.Name()+".schema.json", string(tool.Schema()))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}
	d.schemas[tool.Name()] = compiled
	return compiled, nil
}

// invokeWithRetry calls the tool handler, retrying only on a handler-level
// exception (a returned error, or a recovered panic) — never on a
// value-level error the handler reports via IsError.
func (d *Dispatcher) invokeWithRetry(ctx context.Context, tool agent.Tool, argumentsJSON json.RawMessage) *agent.ToolResult {
	timeout := d.cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	retryCfg := retry.Config{
		MaxAttempts:  d.cfg.MaxRetries + 1,
		InitialDelay: d.cfg.RetryBackoff,
		MaxDelay:     d.cfg.RetryBackoff,
		Factor:       1,
	}

	result, res := retry.DoWithValue(ctx, retryCfg, func() (*agent.ToolResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return invokeOnce(callCtx, tool, argumentsJSON)
	})

	if res.Err != nil {
		return errorResult(agent.NewToolError(tool.Name(), res.Err).WithAttempts(res.Attempts))
	}
	return result
}

// invokeOnce runs the handler, recovering a panic into an error so it
// participates in invokeWithRetry's bounded retry like any other
// handler-level exception.
func invokeOnce(ctx context.Context, tool agent.Tool, argumentsJSON json.RawMessage) (result *agent.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, argumentsJSON)
}

func errorResult(err error) *agent.ToolResult {
	return &agent.ToolResult{Content: err.Error(), IsError: true}
}

// truncate replaces the middle of content with a marker when it exceeds
// maxLen, preserving the first and last keep characters verbatim so the
// setup and the outcome both survive.
func truncate(content string, maxLen, keep int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	if keep <= 0 || keep*2 >= len(content) {
		if len(content) > maxLen {
			return content[:maxLen]
		}
		return content
	}

	head := content[:keep]
	tail := content[len(content)-keep:]
	removed := len(content) - 2*keep
	return fmt.Sprintf("%s... [truncated %d chars] ...%s", head, removed, tail)
}
