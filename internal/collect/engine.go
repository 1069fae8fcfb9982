// Package collect runs the two-phase collection pipeline shared by every
// source: sequential listing into a WorkingSet, then a bounded fan-out of
// detail fetches funneled into an Aggregator.
package collect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// ErrRejected marks a detail result that was fetched but failed the
// source's acceptance predicate.
var ErrRejected = eris.New("rejected")

// Reject returns an ErrRejected wrapped with a reason.
func Reject(format string, args ...any) error {
	return eris.Wrapf(ErrRejected, format, args...)
}

// Secondary reports whether err from a supplementary detail call must end
// the unit. Cancellation and an open circuit do; anything else is logged and
// the caller carries on with no data for that call.
func Secondary(ctx context.Context, source, op, id string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, resilience.ErrCircuitOpen) {
		return err
	}
	zap.L().Warn("secondary call failed, continuing without it",
		zap.String("source", source),
		zap.String("op", op),
		zap.String("id", id),
		zap.String("classification", resilience.ClassifyError(err)),
		zap.Error(err),
	)
	return nil
}

// Source is one profile source. List fills the working set; Detail turns one
// identifier into a record, returns an error wrapping ErrRejected when the
// record fails acceptance, or any other error when no data could be had.
type Source[R model.Record] interface {
	Name() string
	Lister
	Detail(ctx context.Context, id string) (R, error)
}

// Options configures a run.
type Options struct {
	TargetCount int
	// Concurrency bounds in-flight detail units. Default: 1.
	Concurrency int
	// ProgressEvery logs progress after this many completions. Default: 25.
	ProgressEvery int
	Metrics       *metrics.Metrics
	// OnState is called after every state transition.
	OnState func(model.RunState)
}

// Result is the outcome of one run. It is always usable, even when the run
// ended early; Err then holds the cause.
type Result[R model.Record] struct {
	Source     string
	State      model.RunState
	Records    []R
	Stats      model.RunStats
	Failures   []resilience.Failure
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Rows returns the records as the Record interface, for exporters and stores.
func (r *Result[R]) Rows() []model.Record {
	out := make([]model.Record, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec
	}
	return out
}

// Run executes one collection run for src.
func Run[R model.Record](ctx context.Context, src Source[R], opts Options) *Result[R] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 25
	}

	name := src.Name()
	log := zap.L().With(zap.String("source", name))
	res := &Result[R]{Source: name, StartedAt: time.Now().UTC()}

	sm := NewStateMachine(name, opts.Metrics)
	advance := func(to model.RunState) {
		if err := sm.Advance(to); err != nil {
			log.Error("state transition rejected", zap.Error(err))
			return
		}
		if opts.OnState != nil {
			opts.OnState(to)
		}
	}
	finish := func(agg *Aggregator[R]) *Result[R] {
		if agg != nil {
			res.Records = agg.Snapshot()
			stats := agg.Stats()
			stats.Peak = res.Stats.Peak
			stats.Partial = res.Stats.Partial
			res.Stats = stats
			res.Failures = agg.Failures()
		}
		advance(model.RunStateDone)
		res.State = sm.State()
		res.FinishedAt = time.Now().UTC()
		if len(res.Records) == 0 {
			log.Warn("no data collected")
		}
		log.Info("run finished",
			zap.Int("listed", res.Stats.Listed),
			zap.Int("accepted", res.Stats.Accepted),
			zap.Int("rejected", res.Stats.Rejected),
			zap.Int("failed", res.Stats.Failed),
			zap.Int("peak_in_flight", res.Stats.Peak),
			zap.Bool("partial", res.Stats.Partial),
			zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
		)
		return res
	}

	// Listing.
	advance(model.RunStateListing)
	ws := NewWorkingSet(opts.TargetCount)
	if ws.Target() > 0 {
		if err := src.List(ctx, ws); err != nil {
			log.Warn("listing ended early", zap.Error(err), zap.Int("collected", ws.Len()))
			res.Err = eris.Wrapf(err, "collect: %s: listing", name)
			res.Stats.Partial = true
		}
	}
	ids := ws.IDs()
	res.Stats.Listed = len(ids)
	opts.Metrics.AddListed(name, len(ids))
	log.Info("listing complete", zap.Int("identifiers", len(ids)), zap.Int("target", ws.Target()))

	if res.Err != nil || len(ids) == 0 {
		return finish(nil)
	}

	// Detail fan-out.
	advance(model.RunStateDetailFetch)
	agg := NewAggregator[R](name, len(ids), opts.ProgressEvery, opts.Metrics)

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		inFlight    atomic.Int64
		peak        atomic.Int64
		unreachable atomic.Bool
	)

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, id := range ids {
		if dctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if dctx.Err() != nil {
				return nil
			}
			n := inFlight.Add(1)
			for p := peak.Load(); n > p && !peak.CompareAndSwap(p, n); p = peak.Load() {
			}
			defer inFlight.Add(-1)

			rec, err := src.Detail(dctx, id)
			switch {
			case err == nil:
				agg.Accept(i, rec)
			case errors.Is(err, ErrRejected):
				agg.Reject(id, err)
			case errors.Is(err, resilience.ErrCircuitOpen):
				if unreachable.CompareAndSwap(false, true) {
					log.Error("source unreachable, stopping detail fetch", zap.Error(err))
				}
				cancel()
			case dctx.Err() != nil:
				// Cancelled mid-call; the unit never completed.
			default:
				agg.Fail(id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Stats.Peak = int(peak.Load())
	switch {
	case unreachable.Load():
		res.Stats.Partial = true
		res.Err = eris.Wrapf(resilience.ErrCircuitOpen, "collect: %s: detail", name)
	case ctx.Err() != nil:
		res.Stats.Partial = true
		res.Err = eris.Wrapf(ctx.Err(), "collect: %s: detail", name)
	}

	advance(model.RunStateAggregating)
	return finish(agg)
}
