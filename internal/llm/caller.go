// Package llm wraps the model API with the call discipline shared by drafting
// and assessment: a per-call timeout, one retry of the identical request, a
// circuit breaker, adaptive pacing and per-run cost attribution.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/cost"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/pkg/anthropic"
)

// Service is the ExternalServiceError service name for model calls.
const Service = "anthropic"

// Config tunes a Caller.
type Config struct {
	Timeout           time.Duration
	RetryBackoff      time.Duration
	RequestsPerSecond float64
}

// Caller issues model requests. It is safe for concurrent use.
type Caller struct {
	client  anthropic.Client
	breaker *resilience.CircuitBreaker
	limiter *AdaptiveLimiter
	cfg     Config
}

// NewCaller builds a Caller. breaker may be nil.
func NewCaller(client anthropic.Client, breaker *resilience.CircuitBreaker, cfg Config) *Caller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Caller{
		client:  client,
		breaker: breaker,
		limiter: NewAdaptiveLimiter(cfg.RequestsPerSecond, 1),
		cfg:     cfg,
	}
}

// Call sends req, retrying once on any failure other than an open circuit or
// the caller's own cancellation. Every failure is returned as a
// *resilience.ExternalServiceError naming op. A response without text counts
// as a failure.
func (c *Caller) Call(ctx context.Context, op string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	retry := resilience.SingleRetryConfig(c.cfg.RetryBackoff)
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, resilience.ErrCircuitOpen)
	}
	retry.OnRetry = resilience.RetryLogger(Service, op)

	attempts := 0
	start := time.Now()
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		attempts++
		return c.attempt(ctx, op, req)
	})
	if err != nil {
		return nil, &resilience.ExternalServiceError{
			Service:  Service,
			Op:       op,
			Attempts: attempts,
			Err:      err,
		}
	}

	usd := 0.0
	if t := cost.FromContext(ctx); t != nil {
		usd = t.Record(req.Model,
			resp.Usage.InputTokens, resp.Usage.OutputTokens,
			resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)
	}
	zap.L().Debug("cost attribution",
		zap.String("operation", op),
		zap.String("model", req.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", resp.Usage.CacheReadInputTokens),
		zap.Float64("cost_usd", usd),
		zap.Int("attempt", attempts),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp, nil
}

func (c *Caller) attempt(ctx context.Context, op string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llm: wait for rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Text() == "" {
			return nil, eris.Errorf("llm: %s returned no text (stop reason %q)", op, resp.StopReason)
		}
		return resp, nil
	}

	var (
		resp *anthropic.MessageResponse
		err  error
	)
	if c.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, c.breaker, call)
	} else {
		resp, err = call(ctx)
	}

	switch {
	case err == nil:
		c.limiter.OnSuccess()
	case isRateLimited(err):
		c.limiter.OnRateLimit()
	}
	return resp, err
}

func isRateLimited(err error) bool {
	switch anthropic.StatusCode(err) {
	case 429, 529:
		return true
	}
	return false
}
