package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces calls to the model API. A rate-limited or
// overloaded response halves the rate (down to a quarter of the initial
// rate); each success raises it by 20% (up to twice the initial rate).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at perSecond. A non-positive
// rate disables pacing.
func NewAdaptiveLimiter(perSecond float64, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	initial := rate.Limit(perSecond)
	if perSecond <= 0 {
		initial = rate.Inf
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initial, burst),
		maxRate:     initial * 2,
		minRate:     initial / 4,
		currentRate: initial,
	}
}

// Wait blocks until the limiter allows a call or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	next := min(a.currentRate*1.2, a.maxRate)
	a.currentRate = next
	a.limiter.SetLimit(next)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	next := max(a.currentRate*0.5, a.minRate)
	a.currentRate = next
	a.limiter.SetLimit(next)
	zap.L().Warn("llm: reducing call rate after rate limit",
		zap.Float64("new_rate", float64(next)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
