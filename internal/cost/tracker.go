package cost

import (
	"context"
	"sync"

	"github.com/sells-group/acqdocs/internal/model"
)

// Tracker accumulates token usage and spend for one refinement run.
// It is safe for concurrent use.
type Tracker struct {
	calc *Calculator

	mu    sync.Mutex
	usage model.Usage
}

// NewTracker creates a Tracker that prices calls with calc. A nil calc
// records tokens without pricing them.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc}
}

// Record adds one call's token counts and returns the priced cost of that call.
func (t *Tracker) Record(model string, input, output, cacheWrite, cacheRead int64) float64 {
	var usd float64
	if t.calc != nil {
		usd = t.calc.Claude(model, input, output, cacheWrite, cacheRead)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.Calls++
	t.usage.InputTokens += input
	t.usage.OutputTokens += output
	t.usage.CacheWriteTokens += cacheWrite
	t.usage.CacheReadTokens += cacheRead
	t.usage.CostUSD += usd
	return usd
}

// AddCost adds spend that is not priced by tokens, such as a search query.
func (t *Tracker) AddCost(usd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.CostUSD += usd
}

// Snapshot returns the usage accumulated so far.
func (t *Tracker) Snapshot() model.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the Tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
