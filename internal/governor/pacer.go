package governor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacer spaces call starts at least one configured delay apart. On a
// rate-limit signal it halves its rate (down to a quarter of the
// configured rate); each success recovers 20% up to the configured rate.
type Pacer struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewPacer returns a Pacer for the given minimum delay, or nil when delay
// is zero (no pacing).
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return nil
	}
	r := rate.Every(delay)
	return &Pacer{
		limiter:     rate.NewLimiter(r, 1),
		maxRate:     r,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the configured rate.
func (p *Pacer) OnSuccess() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentRate >= p.maxRate {
		return
	}
	newRate := p.currentRate * 1.2
	if newRate > p.maxRate {
		newRate = p.maxRate
	}
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate after a 429 or quota signal.
func (p *Pacer) OnRateLimit() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	newRate := p.currentRate * 0.5
	if newRate < p.minRate {
		newRate = p.minRate
	}
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
	zap.L().Debug("pacer: reducing rate after rate limit",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate.
func (p *Pacer) Limit() rate.Limit {
	if p == nil {
		return rate.Inf
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRate
}
