// Package governor bounds, paces and retries every outbound call made by a
// source collector.
package governor

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/profile-collector/internal/metrics"
	"github.com/sells-group/profile-collector/internal/resilience"
)

// Options configures a Governor.
type Options struct {
	Source string

	// Concurrency is the number of calls allowed in flight. Default: 1.
	Concurrency int

	// CallDelay is the minimum spacing between call starts. Zero disables pacing.
	CallDelay time.Duration

	Retry   resilience.RetryPolicy
	Breaker resilience.CircuitBreakerConfig
	Metrics *metrics.Metrics
}

// Governor is the rate governor for one source. It is safe for concurrent use.
type Governor struct {
	source  string
	limit   int64
	sem     *semaphore.Weighted
	pacer   *Pacer
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics

	mu        sync.Mutex
	notBefore time.Time

	inFlight atomic.Int64
	peak     atomic.Int64
}

// New creates a Governor from opts.
func New(opts Options) *Governor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryPolicy()
	}
	return &Governor{
		source:  opts.Source,
		limit:   int64(opts.Concurrency),
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		pacer:   NewPacer(opts.CallDelay),
		retry:   opts.Retry,
		breaker: newBreaker(opts.Source, opts.Breaker),
		metrics: opts.Metrics,
	}
}

func newBreaker(source string, cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	if cfg.Source == "" {
		cfg.Source = source
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Source returns the source name this governor serves.
func (g *Governor) Source() string { return g.source }

// Limit returns the permit count.
func (g *Governor) Limit() int { return int(g.limit) }

// Acquire blocks until a permit is free or ctx is done.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return eris.Wrap(err, "governor: acquire permit")
	}
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.metrics.AddInFlight(g.source, 1)
	return nil
}

// Release returns a permit acquired with Acquire.
func (g *Governor) Release() {
	g.inFlight.Add(-1)
	g.metrics.AddInFlight(g.source, -1)
	g.sem.Release(1)
}

// InFlight returns the number of permits currently held.
func (g *Governor) InFlight() int { return int(g.inFlight.Load()) }

// Peak returns the highest number of permits held at once.
func (g *Governor) Peak() int { return int(g.peak.Load()) }

// Pause holds every subsequent call start until d from now. Used for
// service hints that arrive inside successful payloads.
func (g *Governor) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	g.mu.Lock()
	if until.After(g.notBefore) {
		g.notBefore = until
	}
	g.mu.Unlock()
	zap.L().Info("governor: pausing on service hint",
		zap.String("source", g.source),
		zap.Duration("wait", d),
	)
}

// Unreachable reports whether consecutive transport failures have opened
// the circuit for this source.
func (g *Governor) Unreachable() bool {
	return g.breaker.Open()
}

// Call runs fn under a permit with pacing and the retry policy. The permit
// is held across retries of the same call.
func (g *Governor) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Call for functions returning a value.
func Do[T any](ctx context.Context, g *Governor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.Acquire(ctx); err != nil {
		return zero, err
	}
	defer g.Release()

	policy := g.retry
	logRetry := resilience.RetryLogger(g.source, op)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		if resilience.StatusCode(err) == http.StatusTooManyRequests || resilience.RetryAfter(err) > 0 {
			g.pacer.OnRateLimit()
		}
		g.metrics.ObserveCall(g.source, metrics.OutcomeRetried)
		g.metrics.ObserveWait(g.source, wait.Seconds())
		logRetry(attempt, err, wait)
	}

	val, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (T, error) {
		if err := g.waitTurn(ctx); err != nil {
			return zero, err
		}
		var out T
		err := g.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			out, callErr = fn(ctx)
			return callErr
		})
		return out, err
	})
	if err != nil {
		g.metrics.ObserveCall(g.source, resilience.ClassifyError(err))
		return zero, eris.Wrapf(err, "%s: %s", g.source, op)
	}

	g.pacer.OnSuccess()
	g.metrics.ObserveCall(g.source, metrics.OutcomeOK)
	return val, nil
}

func (g *Governor) waitTurn(ctx context.Context) error {
	g.mu.Lock()
	wait := time.Until(g.notBefore)
	g.mu.Unlock()
	if wait > 0 {
		if err := resilience.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return g.pacer.Wait(ctx)
}
