package agent

import (
	"strings"
	"sync"
	"time"
)

// HealthConfig controls the per-provider circuit breaker the Router
// consults before dialing an entry.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// provider's circuit opens.
	FailureThreshold int

	// Cooldown is how long an open circuit keeps the provider out of the
	// failover rotation before it may be tried again.
	Cooldown time.Duration
}

// DefaultHealthConfig returns the Router's default circuit-breaker policy.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// ProviderState is a snapshot of one provider's health.
type ProviderState struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

// healthTracker records request outcomes per provider and answers whether a
// provider should currently be dialed. A provider whose circuit is open is
// skipped by the Router's failover walk until its cooldown elapses; the
// walk falls back to trying every entry when the tracker would otherwise
// rule them all out.
type healthTracker struct {
	mu     sync.Mutex
	cfg    HealthConfig
	states map[string]*ProviderState
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &healthTracker{
		cfg:    cfg,
		states: make(map[string]*ProviderState),
	}
}

// available reports whether the provider may be dialed now. An open circuit
// past its cooldown counts as available (half-open: the next attempt
// decides whether it closes or re-opens).
func (h *healthTracker) available(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.states[name]
	if !ok || !state.CircuitOpen {
		return true
	}
	return time.Since(state.CircuitOpenAt) > h.cfg.Cooldown
}

func (h *healthTracker) recordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[name]
	if state == nil {
		return
	}
	state.Failures = 0
	state.CircuitOpen = false
}

func (h *healthTracker) recordFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[name]
	if state == nil {
		state = &ProviderState{Name: name}
		h.states[name] = state
	}

	state.Failures++
	state.LastFailure = time.Now()

	if state.Failures >= h.cfg.FailureThreshold && !state.CircuitOpen {
		state.CircuitOpen = true
		state.CircuitOpenAt = time.Now()
	}
}

// snapshot returns a copy of every tracked provider's state.
func (h *healthTracker) snapshot() []ProviderState {
	h.mu.Lock()
	defer h.mu.Unlock()

	states := make([]ProviderState, 0, len(h.states))
	for _, s := range h.states {
		states = append(states, *s)
	}
	return states
}

// reset closes the circuit for one provider, or for all when name is empty.
func (h *healthTracker) reset(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, state := range h.states {
		if name != "" && state.Name != name {
			continue
		}
		state.Failures = 0
		state.CircuitOpen = false
	}
}

// isProviderRetryable reports whether an error is worth retrying against
// the same provider: rate limits, timeouts, and server-side failures.
func isProviderRetryable(err error) bool {
	switch classifyProviderError(err) {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// shouldProviderFailover reports whether an error warrants moving to a
// different provider even though retrying this one is pointless: the
// account is out of credit, the credential is bad, or the model is gone.
func shouldProviderFailover(err error) bool {
	switch classifyProviderError(err) {
	case "billing", "auth", "model_unavailable":
		return true
	default:
		return false
	}
}

// classifyProviderError buckets an error by its rendered message. Provider
// adapters that can do better attach a typed ProviderError with an explicit
// status; this is the fallback for everything else, matching the transient
// substrings the failover policy names (429/"rate limit"/timeout/connection).
func classifyProviderError(err error) string {
	if err == nil {
		return "unknown"
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return "timeout"

	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return "rate_limit"

	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return "auth"

	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "402"):
		return "billing"

	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"):
		return "model_unavailable"

	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return "server_error"

	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "bad request"),
		strings.Contains(errStr, "400"):
		return "invalid_request"

	default:
		return "unknown"
	}
}
