// Package monitoring evaluates persisted run history and raises webhook
// alerts when a source degrades.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/store"
)

// maxRuns bounds how much history one snapshot reads.
const maxRuns = 10000

// RunLister is the part of the run store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, f store.RunFilter) ([]model.Run, error)
}

// SourceHealth aggregates the runs of one source inside the lookback window.
type SourceHealth struct {
	Source   string  `json:"source"`
	Runs     int     `json:"runs"`
	Done     int     `json:"done"`
	Partial  int     `json:"partial"`
	Stalled  int     `json:"stalled"`
	Accepted int     `json:"accepted"`
	Failed   int     `json:"failed"`
	FailRate float64 `json:"fail_rate"`
}

// Units is the number of detail units that produced an outcome.
func (h SourceHealth) Units() int {
	return h.Accepted + h.Failed
}

// MetricsSnapshot holds a point-in-time view of collection health.
type MetricsSnapshot struct {
	Sources       []SourceHealth `json:"sources"`
	LookbackHours int            `json:"lookback_hours"`
	CollectedAt   time.Time      `json:"collected_at"`
}

// Collector gathers run statistics from the store.
type Collector struct {
	runs       RunLister
	stallAfter time.Duration
	nowFunc    func() time.Time
}

// NewCollector creates a collector. Runs that have not reached done and
// were last updated more than stallAfter ago count as stalled.
func NewCollector(runs RunLister, stallAfter time.Duration) *Collector {
	if stallAfter <= 0 {
		stallAfter = time.Hour
	}
	return &Collector{runs: runs, stallAfter: stallAfter, nowFunc: time.Now}
}

// Collect builds a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	bySource := make(map[string]*SourceHealth)
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		h, ok := bySource[r.Source]
		if !ok {
			h = &SourceHealth{Source: r.Source}
			bySource[r.Source] = h
		}
		h.Runs++
		if r.State == model.RunStateDone {
			h.Done++
			h.Accepted += r.Stats.Accepted
			h.Failed += r.Stats.Failed
			if r.Stats.Partial {
				h.Partial++
			}
		} else if now.Sub(r.UpdatedAt) > c.stallAfter {
			h.Stalled++
		}
	}

	for _, h := range bySource {
		if units := h.Units(); units > 0 {
			h.FailRate = float64(h.Failed) / float64(units)
		}
		snap.Sources = append(snap.Sources, *h)
	}
	sort.Slice(snap.Sources, func(i, j int) bool {
		return snap.Sources[i].Source < snap.Sources[j].Source
	})

	return snap, nil
}
