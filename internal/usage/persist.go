package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// SessionRecord is one session's entry in the history file.
type SessionRecord struct {
	StartTS     time.Time                `json:"start_ts"`
	PerProvider map[string]ProviderStats `json:"per_provider"`
	Totals      ProviderStats            `json:"totals"`
}

// History is the on-disk layout: every session ever appended, plus running
// cumulative totals per provider.
type History struct {
	Sessions   []SessionRecord          `json:"sessions"`
	Cumulative map[string]ProviderStats `json:"cumulative"`
}

// AppendSession reads the history file at path (a missing file starts an
// empty history), appends this tracker's session record, folds the session
// into the cumulative totals, and writes the file back. Callers invoke it
// once, at shutdown; concurrent processes must use separate files.
func (t *Tracker) AppendSession(path string) error {
	history, err := LoadHistory(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		history = &History{}
	}

	perProvider := t.ProviderTotals()
	session := SessionRecord{
		StartTS:     t.StartedAt(),
		PerProvider: perProvider,
		Totals:      t.Totals(),
	}
	history.Sessions = append(history.Sessions, session)

	if history.Cumulative == nil {
		history.Cumulative = make(map[string]ProviderStats)
	}
	for name, stats := range perProvider {
		cum := history.Cumulative[name]
		cum.Usage.Add(&stats.Usage)
		cum.Requests += stats.Requests
		cum.EstimatedCost += stats.EstimatedCost
		history.Cumulative[name] = cum
	}

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("usage: marshal history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("usage: write %s: %w", path, err)
	}
	return nil
}

// LoadHistory reads a usage history file written by AppendSession.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("usage: read %s: %w", path, err)
	}
	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("usage: decode %s: %w", path, err)
	}
	return &history, nil
}
