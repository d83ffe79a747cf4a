// Package usage tracks per-provider token consumption and estimated cost
// for one agent session. The Router records one entry per successful
// completion; at shutdown the session's aggregate is appended to a
// persistent history file (persist.go).
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Usage holds the token counts one completion consumed. Cache fields are
// populated only by providers that report prompt-cache activity.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Cost is a provider's pricing per million tokens.
type Cost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Estimate calculates the estimated cost in dollars for the given usage.
func (c *Cost) Estimate(usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens)*c.Output +
		float64(usage.CacheReadTokens)*c.CacheRead +
		float64(usage.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// Record is one request's accounting, attributed to the provider that
// actually answered (after any failover).
type Record struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Usage     Usage     `json:"usage"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderStats aggregates everything charged to one provider this session:
// tokens, request count, and the estimated dollar cost.
type ProviderStats struct {
	Usage         Usage   `json:"usage"`
	Requests      int64   `json:"requests"`
	EstimatedCost float64 `json:"estimated_cost"`
}

func (s *ProviderStats) add(u *Usage, cost float64) {
	s.Usage.Add(u)
	s.Requests++
	s.EstimatedCost += cost
}

// Tracker aggregates usage for one agent session. It is per-instance state
// (no global singleton); each agent constructs its own.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	records   []Record
	byProv    map[string]*ProviderStats
	costs     map[string]Cost
	maxCount  int
}

// TrackerConfig configures the usage tracker. Costs maps a provider name to
// its per-million pricing; providers without an entry accumulate tokens with
// zero estimated cost.
type TrackerConfig struct {
	Costs    map[string]Cost
	MaxCount int
}

// DefaultTrackerConfig keeps the last 10k raw records; aggregates are never
// pruned.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MaxCount: 10000}
}

// NewTracker creates a usage tracker stamped with the session start time.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}
	return &Tracker{
		startedAt: time.Now(),
		byProv:    make(map[string]*ProviderStats),
		costs:     config.Costs,
		maxCount:  config.MaxCount,
	}
}

// StartedAt returns when this session's tracking began.
func (t *Tracker) StartedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

// Record adds one request's usage, attributing it to r.Provider. Missing
// usage fields are simply zero; a response with no usage block still counts
// as one request.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.records = append(t.records, r)
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}

	stats := t.byProv[r.Provider]
	if stats == nil {
		stats = &ProviderStats{}
		t.byProv[r.Provider] = stats
	}

	var cost float64
	if c, ok := t.costs[r.Provider]; ok {
		cost = c.Estimate(&r.Usage)
	}
	stats.add(&r.Usage, cost)
}

// ProviderTotals returns a copy of the per-provider aggregates.
func (t *Tracker) ProviderTotals() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.byProv))
	for name, stats := range t.byProv {
		result[name] = *stats
	}
	return result
}

// Totals returns the session total across all providers.
func (t *Tracker) Totals() ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total ProviderStats
	for _, stats := range t.byProv {
		total.Usage.Add(&stats.Usage)
		total.Requests += stats.Requests
		total.EstimatedCost += stats.EstimatedCost
	}
	return total
}

// RecentRecords returns up to limit of the most recent raw records.
func (t *Tracker) RecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	result := make([]Record, limit)
	copy(result, t.records[len(t.records)-limit:])
	return result
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display. Zero, negative, and
// non-finite amounts render as the empty string so callers can skip them.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatUsage formats usage for display.
func FormatUsage(usage *Usage) string {
	if usage == nil {
		return "0 tokens"
	}
	return FormatTokenCount(usage.Total()) + " tokens"
}

// FormatUsageDetailed formats usage with an in/out/cache breakdown.
func FormatUsageDetailed(usage *Usage) string {
	if usage == nil {
		return "No usage"
	}
	var parts []string
	if usage.InputTokens > 0 {
		parts = append(parts, fmt.Sprintf("in: %s", FormatTokenCount(usage.InputTokens)))
	}
	if usage.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("out: %s", FormatTokenCount(usage.OutputTokens)))
	}
	if usage.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-r: %s", FormatTokenCount(usage.CacheReadTokens)))
	}
	if usage.CacheWriteTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-w: %s", FormatTokenCount(usage.CacheWriteTokens)))
	}
	if len(parts) == 0 {
		return "0 tokens"
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += ", "
		}
		joined += p
	}
	return fmt.Sprintf("%s (%s)", FormatTokenCount(usage.Total()), joined)
}
