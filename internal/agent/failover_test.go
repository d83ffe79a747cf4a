package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// failingProvider always fails with the given error.
type failingProvider struct {
	name      string
	err       error
	callCount atomic.Int32
}

func (p *failingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.callCount.Add(1)
	return nil, p.err
}

func (p *failingProvider) Name() string        { return p.name }
func (p *failingProvider) Models() []Model     { return nil }
func (p *failingProvider) SupportsTools() bool { return true }

// successProvider always succeeds with a single "success" text chunk.
type successProvider struct {
	name      string
	callCount atomic.Int32
}

func (p *successProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.callCount.Add(1)
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: "success", Done: true}
	close(ch)
	return ch, nil
}

func (p *successProvider) Name() string        { return p.name }
func (p *successProvider) Models() []Model     { return nil }
func (p *successProvider) SupportsTools() bool { return true }

func TestHealthTrackerOpensCircuitAtThreshold(t *testing.T) {
	h := newHealthTracker(HealthConfig{FailureThreshold: 3, Cooldown: time.Minute})

	h.recordFailure("p")
	h.recordFailure("p")
	if !h.available("p") {
		t.Fatal("circuit should stay closed below the threshold")
	}

	h.recordFailure("p")
	if h.available("p") {
		t.Fatal("circuit should open at the threshold")
	}

	states := h.snapshot()
	if len(states) != 1 || !states[0].CircuitOpen || states[0].Failures != 3 {
		t.Fatalf("unexpected state snapshot: %+v", states)
	}
}

func TestHealthTrackerHalfOpenAfterCooldown(t *testing.T) {
	h := newHealthTracker(HealthConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	h.recordFailure("p")
	if h.available("p") {
		t.Fatal("circuit should be open immediately after the threshold")
	}

	time.Sleep(20 * time.Millisecond)
	if !h.available("p") {
		t.Fatal("provider should be dialable again once the cooldown has elapsed")
	}

	// A success while half-open closes the circuit for good.
	h.recordSuccess("p")
	if !h.available("p") {
		t.Fatal("success should close the circuit")
	}
	if s := h.snapshot(); len(s) != 1 || s[0].Failures != 0 {
		t.Fatalf("failures should reset on success: %+v", s)
	}
}

func TestHealthTrackerReset(t *testing.T) {
	h := newHealthTracker(HealthConfig{FailureThreshold: 1, Cooldown: time.Hour})

	h.recordFailure("a")
	h.recordFailure("b")

	h.reset("a")
	if !h.available("a") {
		t.Fatal("reset should close a's circuit")
	}
	if h.available("b") {
		t.Fatal("b should remain open")
	}

	h.reset("")
	if !h.available("b") {
		t.Fatal("empty-name reset should close every circuit")
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{errors.New("429 Too Many Requests"), "rate_limit"},
		{errors.New("rate limit exceeded, retry later"), "rate_limit"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("dial tcp: connection refused"), "server_error"},
		{errors.New("read: connection reset by peer"), "server_error"},
		{errors.New("HTTP 503 service temporarily overloaded"), "server_error"},
		{errors.New("401 unauthorized"), "auth"},
		{errors.New("insufficient quota for this billing period"), "billing"},
		{errors.New("model not found: gpt-9"), "model_unavailable"},
		{errors.New("400 bad request: messages[0] is malformed"), "invalid_request"},
		{errors.New("something inexplicable"), "unknown"},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := classifyProviderError(tt.err); got != tt.want {
				t.Errorf("classifyProviderError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryableAndFailoverDecisions(t *testing.T) {
	rateLimit := errors.New("429 rate limit")
	auth := errors.New("invalid api key")
	badRequest := errors.New("400 bad request")

	if !isProviderRetryable(rateLimit) {
		t.Error("rate limit should be retryable")
	}
	if isProviderRetryable(auth) {
		t.Error("auth failure should not be retryable")
	}
	if !shouldProviderFailover(auth) {
		t.Error("auth failure should still fail over to another provider")
	}
	if isProviderRetryable(badRequest) || shouldProviderFailover(badRequest) {
		t.Error("a bad request aborts: neither retry nor failover can fix it")
	}
}

func TestRouterSkipsProviderWithOpenCircuit(t *testing.T) {
	primary := &failingProvider{name: "primary", err: errors.New("429 rate limit")}
	backup := &successProvider{name: "backup"}

	r := NewRouter(
		ProviderEntry{Provider: primary, Model: "m1"},
		[]ProviderEntry{{Provider: backup, Model: "m2", CostScore: 1}},
		RouterConfig{MaxTokens: 64}, nil,
	)
	r.retryConfig.MaxAttempts = 1

	// Each AskTool fails over from primary to backup, counting one primary
	// failure per call until its circuit opens.
	threshold := DefaultHealthConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		if _, err := r.AskTool(context.Background(), []CompletionMessage{{Role: "user", Content: "hi"}}, nil, ""); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	before := primary.callCount.Load()
	if _, err := r.AskTool(context.Background(), []CompletionMessage{{Role: "user", Content: "again"}}, nil, ""); err != nil {
		t.Fatalf("post-threshold call: %v", err)
	}
	if primary.callCount.Load() != before {
		t.Fatal("primary should be skipped while its circuit is open")
	}

	states := r.ProviderStates()
	if len(states) != 1 || states[0].Name != "primary" || !states[0].CircuitOpen {
		t.Fatalf("unexpected provider states: %+v", states)
	}

	r.ResetCircuit("primary")
	for _, s := range r.ProviderStates() {
		if s.CircuitOpen {
			t.Fatal("ResetCircuit should close the primary's circuit")
		}
	}
}

func TestRouterFallsBackWhenEveryCircuitIsOpen(t *testing.T) {
	only := &successProvider{name: "only"}
	r := NewRouter(ProviderEntry{Provider: only, Model: "m"}, nil, RouterConfig{MaxTokens: 64}, nil)

	// Force the circuit open, then ask anyway: with nothing else to try, the
	// Router must still give the provider one real attempt.
	for i := 0; i < DefaultHealthConfig().FailureThreshold; i++ {
		r.health.recordFailure("only")
	}
	if r.health.available("only") {
		t.Fatal("circuit should be open")
	}

	resp, err := r.AskTool(context.Background(), []CompletionMessage{{Role: "user", Content: "hi"}}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "success" {
		t.Fatalf("Content = %q, want success", resp.Content)
	}
	if only.callCount.Load() != 1 {
		t.Fatalf("provider call count = %d, want 1", only.callCount.Load())
	}
}
