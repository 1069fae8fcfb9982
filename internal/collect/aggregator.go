package collect

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

type indexed[R model.Record] struct {
	index  int
	record R
}

// Aggregator is the single sink for detail results. Workers report each
// completed unit exactly once; accepted records are kept with their
// working-set position so snapshots come out in discovery order.
type Aggregator[R model.Record] struct {
	mu       sync.Mutex
	source   string
	total    int
	every    int
	records  []indexed[R]
	stats    model.RunStats
	failures *resilience.FailureLog
	metrics  *metrics.Metrics
}

// NewAggregator creates an aggregator expecting total units. A progress
// line is logged every `every` completions (0 disables).
func NewAggregator[R model.Record](source string, total, every int, m *metrics.Metrics) *Aggregator[R] {
	return &Aggregator[R]{
		source:   source,
		total:    total,
		every:    every,
		stats:    model.RunStats{Listed: total},
		failures: resilience.NewFailureLog(source),
		metrics:  m,
	}
}

// Accept adds a record found at working-set position index.
func (a *Aggregator[R]) Accept(index int, rec R) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, indexed[R]{index: index, record: rec})
	a.stats.Accepted++
	a.metrics.ObserveRecord(a.source, metrics.RecordAccepted)
	a.completeLocked()
}

// Reject counts a unit whose data failed the acceptance predicate.
func (a *Aggregator[R]) Reject(id string, reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Rejected++
	a.metrics.ObserveRecord(a.source, metrics.RecordRejected)
	zap.L().Debug("record rejected", zap.String("source", a.source), zap.String("id", id), zap.Error(reason))
	a.completeLocked()
}

// Fail counts a unit that produced no data and logs why.
func (a *Aggregator[R]) Fail(id string, err error) {
	a.failures.Record("detail", id, err)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Failed++
	a.metrics.ObserveRecord(a.source, metrics.RecordFailed)
	zap.L().Warn("detail fetch failed", zap.String("source", a.source), zap.String("id", id), zap.Error(err))
	a.completeLocked()
}

func (a *Aggregator[R]) completeLocked() {
	a.stats.Fetched++
	if a.every > 0 && a.stats.Fetched%a.every == 0 {
		zap.L().Info("detail progress",
			zap.String("source", a.source),
			zap.Int("completed", a.stats.Fetched),
			zap.Int("total", a.total),
			zap.Int("accepted", a.stats.Accepted),
		)
	}
}

// Snapshot returns the records accepted so far in discovery order. It is
// safe to call while workers are still reporting.
func (a *Aggregator[R]) Snapshot() []R {
	a.mu.Lock()
	items := make([]indexed[R], len(a.records))
	copy(items, a.records)
	a.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
	out := make([]R, len(items))
	for i, it := range items {
		out[i] = it.record
	}
	return out
}

// Stats returns the counters so far.
func (a *Aggregator[R]) Stats() model.RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Failures returns the absorbed detail failures.
func (a *Aggregator[R]) Failures() []resilience.Failure {
	return a.failures.Entries()
}
