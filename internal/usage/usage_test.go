package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUsageTotalAndAdd(t *testing.T) {
	u := &Usage{InputTokens: 100, OutputTokens: 200, CacheReadTokens: 50, CacheWriteTokens: 25}
	if u.Total() != 375 {
		t.Errorf("Total() = %d, want 375", u.Total())
	}

	u.Add(&Usage{InputTokens: 50, OutputTokens: 75})
	if u.InputTokens != 150 || u.OutputTokens != 275 {
		t.Errorf("after Add: in=%d out=%d, want 150/275", u.InputTokens, u.OutputTokens)
	}

	u.Add(nil)
	if u.InputTokens != 150 {
		t.Error("adding nil should not change usage")
	}
}

func TestCostEstimate(t *testing.T) {
	cost := &Cost{Input: 3.0, Output: 15.0, CacheRead: 0.3, CacheWrite: 3.75}
	usage := &Usage{InputTokens: 1000, OutputTokens: 500, CacheReadTokens: 100}

	// (1000*3 + 500*15 + 100*0.3) / 1e6 = 0.01053
	estimated := cost.Estimate(usage)
	if diff := estimated - 0.01053; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("Estimate() = %f, want 0.01053", estimated)
	}

	if cost.Estimate(nil) != 0 {
		t.Error("nil usage should estimate to 0")
	}
}

func TestTrackerAggregatesByProvider(t *testing.T) {
	tracker := NewTracker(TrackerConfig{
		Costs: map[string]Cost{"anthropic": {Input: 3.0, Output: 15.0}},
	})

	tracker.Record(Record{Provider: "anthropic", Usage: Usage{InputTokens: 100, OutputTokens: 200}})
	tracker.Record(Record{Provider: "anthropic", Usage: Usage{InputTokens: 50}})
	tracker.Record(Record{Provider: "openai", Usage: Usage{InputTokens: 30}})

	totals := tracker.ProviderTotals()
	if len(totals) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(totals))
	}

	ant := totals["anthropic"]
	if ant.Requests != 2 {
		t.Errorf("anthropic requests = %d, want 2", ant.Requests)
	}
	if ant.Usage.InputTokens != 150 || ant.Usage.OutputTokens != 200 {
		t.Errorf("anthropic tokens = %d/%d, want 150/200", ant.Usage.InputTokens, ant.Usage.OutputTokens)
	}
	if ant.EstimatedCost <= 0 {
		t.Error("anthropic cost should be positive with pricing configured")
	}

	oai := totals["openai"]
	if oai.EstimatedCost != 0 {
		t.Errorf("openai has no pricing entry, cost = %f, want 0", oai.EstimatedCost)
	}

	all := tracker.Totals()
	if all.Requests != 3 {
		t.Errorf("total requests = %d, want 3", all.Requests)
	}
	if all.Usage.InputTokens != 180 {
		t.Errorf("total input tokens = %d, want 180", all.Usage.InputTokens)
	}
}

func TestTrackerRecentRecords(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())

	for i := 0; i < 5; i++ {
		tracker.Record(Record{Provider: "test", Usage: Usage{InputTokens: int64(i * 100)}})
	}

	records := tracker.RecentRecords(3)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Usage.InputTokens != 200 {
		t.Errorf("first of recent 3 has input=%d, want 200", records[0].Usage.InputTokens)
	}
}

func TestTrackerRecordCapBoundsRawRecords(t *testing.T) {
	tracker := NewTracker(TrackerConfig{MaxCount: 2})

	for i := 0; i < 5; i++ {
		tracker.Record(Record{Provider: "test", Usage: Usage{InputTokens: 1}})
	}

	if got := len(tracker.RecentRecords(0)); got != 2 {
		t.Errorf("raw record count = %d, want 2", got)
	}
	// Aggregates survive pruning.
	if tracker.Totals().Requests != 5 {
		t.Errorf("total requests = %d, want 5", tracker.Totals().Requests)
	}
}

func TestAppendSessionBuildsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	first := NewTracker(DefaultTrackerConfig())
	first.Record(Record{Provider: "anthropic", Usage: Usage{InputTokens: 100, OutputTokens: 10}})
	if err := first.AppendSession(path); err != nil {
		t.Fatalf("first AppendSession: %v", err)
	}

	second := NewTracker(DefaultTrackerConfig())
	second.Record(Record{Provider: "anthropic", Usage: Usage{InputTokens: 50}})
	second.Record(Record{Provider: "openai", Usage: Usage{OutputTokens: 5}})
	if err := second.AppendSession(path); err != nil {
		t.Fatalf("second AppendSession: %v", err)
	}

	history, err := LoadHistory(path)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	if len(history.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(history.Sessions))
	}
	if history.Sessions[0].StartTS.IsZero() {
		t.Error("session record should carry a start timestamp")
	}
	if history.Sessions[1].PerProvider["openai"].Usage.OutputTokens != 5 {
		t.Error("second session per-provider breakdown is wrong")
	}

	cum := history.Cumulative["anthropic"]
	if cum.Usage.InputTokens != 150 {
		t.Errorf("cumulative anthropic input = %d, want 150", cum.Usage.InputTokens)
	}
	if cum.Requests != 2 {
		t.Errorf("cumulative anthropic requests = %d, want 2", cum.Requests)
	}
}

func TestLoadHistoryMissingFile(t *testing.T) {
	_, err := LoadHistory(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		count int64
		want  string
	}{
		{0, "0"},
		{-10, "0"},
		{500, "500"},
		{1000, "1.0k"},
		{1500, "1.5k"},
		{10000, "10k"},
		{100000, "100k"},
		{1500000, "1.5m"},
	}
	for _, tt := range tests {
		if got := FormatTokenCount(tt.count); got != tt.want {
			t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, ""},
		{-1, ""},
		{0.001, "$0.0010"},
		{0.0123, "$0.01"},
		{1.5, "$1.50"},
		{10.99, "$10.99"},
	}
	for _, tt := range tests {
		if got := FormatUSD(tt.amount); got != tt.want {
			t.Errorf("FormatUSD(%f) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestFormatUsageDetailed(t *testing.T) {
	u := &Usage{InputTokens: 1000, OutputTokens: 500}
	if got := FormatUsageDetailed(u); got != "1.5k (in: 1.0k, out: 500)" {
		t.Errorf("FormatUsageDetailed() = %q", got)
	}
	if FormatUsage(nil) != "0 tokens" {
		t.Error("nil usage should format as '0 tokens'")
	}
	if FormatUsageDetailed(nil) != "No usage" {
		t.Error("nil usage detailed should format as 'No usage'")
	}
}

func TestTrackerStartedAt(t *testing.T) {
	before := time.Now().Add(-time.Second)
	tracker := NewTracker(DefaultTrackerConfig())
	if tracker.StartedAt().Before(before) {
		t.Error("StartedAt should be stamped at construction")
	}
}
