package quota

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps every counter store failure. Callers treat it as
// "deny": an outage must never turn into unmetered sending.
var ErrStoreUnavailable = errors.New("quota counter store unavailable")

// Keys names the two counters for one quota subject at one instant.
type Keys struct {
	Day       string
	Window    string
	DayTTL    time.Duration
	WindowTTL time.Duration
}

// Counts is a snapshot of both counters.
type Counts struct {
	Day    int
	Window int
}

// CounterStore persists the day and window counters. IncrementCapped must be
// atomic across processes: it grants min(n, room under both ceilings),
// increments both counters by the grant, and never pushes either counter
// over its ceiling.
type CounterStore interface {
	Get(ctx context.Context, k Keys) (Counts, error)
	IncrementCapped(ctx context.Context, k Keys, n int, lim Limits) (granted int, after Counts, err error)
	Decrement(ctx context.Context, k Keys, n int) error
}
