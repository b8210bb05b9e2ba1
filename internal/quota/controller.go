// Package quota is the admission controller in front of the outbound email
// provider. It tracks a daily counter that resets at UTC midnight and a
// short-window counter, and admits sends only while both have room.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Limits are the provider ceilings a Controller enforces.
type Limits struct {
	Daily      int
	Window     int
	WindowSize time.Duration
}

// DefaultLimits mirror a modest SES production account: 50k/day, 14/sec.
func DefaultLimits() Limits {
	return Limits{Daily: 50000, Window: 14, WindowSize: time.Second}
}

// Admission is the controller's answer to "may I send want more?".
type Admission struct {
	Allowed         bool          `json:"allowed"`
	Admittable      int           `json:"admittable"`
	RemainingToday  int           `json:"remainingToday"`
	RemainingWindow int           `json:"remainingWindow"`
	RetryAfter      time.Duration `json:"retryAfter"`
}

// Stats is a point-in-time view of a quota subject.
type Stats struct {
	SentToday       int       `json:"sentToday"`
	RemainingToday  int       `json:"remainingToday"`
	DailyLimit      int       `json:"dailyLimit"`
	SentInWindow    int       `json:"sentInWindow"`
	RemainingWindow int       `json:"remainingWindow"`
	WindowLimit     int       `json:"windowLimit"`
	WindowSeconds   float64   `json:"windowSeconds"`
	ResetAt         time.Time `json:"resetAt"`
}

// Controller admits sends against a CounterStore. It is safe for concurrent
// use; all cross-process atomicity comes from the store.
type Controller struct {
	store  CounterStore
	limits Limits
	now    func() time.Time
}

// NewController creates a controller. Zero limits fall back to DefaultLimits.
func NewController(store CounterStore, limits Limits) *Controller {
	def := DefaultLimits()
	if limits.Daily <= 0 {
		limits.Daily = def.Daily
	}
	if limits.Window <= 0 {
		limits.Window = def.Window
	}
	if limits.WindowSize <= 0 {
		limits.WindowSize = def.WindowSize
	}
	return &Controller{store: store, limits: limits, now: time.Now}
}

// SetClock replaces the time source (tests only).
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Limits returns the ceilings in force.
func (c *Controller) Limits() Limits { return c.limits }

func (c *Controller) keys(subject string, now time.Time) Keys {
	now = now.UTC()
	bucket := now.UnixNano() / int64(c.limits.WindowSize)
	return Keys{
		Day:       fmt.Sprintf("quota:%s:day:%s", subject, now.Format("2006-01-02")),
		Window:    fmt.Sprintf("quota:%s:win:%d:%d", subject, c.limits.WindowSize.Milliseconds(), bucket),
		DayTTL:    25 * time.Hour,
		WindowTTL: 2 * c.limits.WindowSize,
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func (c *Controller) windowEnd(now time.Time) time.Time {
	size := int64(c.limits.WindowSize)
	start := now.UnixNano() / size * size
	return time.Unix(0, start+size).UTC()
}

// CanSend reports how many of want may be dispatched right now without
// recording anything. A store failure denies admission and returns the
// error; it never reports room it cannot prove.
func (c *Controller) CanSend(ctx context.Context, subject string, want int) (Admission, error) {
	now := c.now()
	counts, err := c.store.Get(ctx, c.keys(subject, now))
	if err != nil {
		return Admission{}, err
	}

	remDay := nonNegative(c.limits.Daily - counts.Day)
	remWin := nonNegative(c.limits.Window - counts.Window)
	adm := Admission{
		Admittable:      nonNegative(minInt(want, remDay, remWin)),
		RemainingToday:  remDay,
		RemainingWindow: remWin,
	}
	adm.Allowed = adm.Admittable > 0
	if !adm.Allowed {
		switch {
		case remDay == 0:
			adm.RetryAfter = nextMidnightUTC(now).Sub(now)
		case remWin == 0:
			adm.RetryAfter = c.windowEnd(now).Sub(now)
		}
	}
	return adm, nil
}

// RecordSent atomically counts up to n dispatched sends and returns how
// many were recorded. A result below n means a ceiling was reached; the
// caller must not dispatch the difference.
func (c *Controller) RecordSent(ctx context.Context, subject string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	granted, _, err := c.store.IncrementCapped(ctx, c.keys(subject, c.now()), n, c.limits)
	if err != nil {
		return 0, err
	}
	return granted, nil
}

// Release returns n recorded sends that were never dispatched.
func (c *Controller) Release(ctx context.Context, subject string, n int) error {
	if n <= 0 {
		return nil
	}
	return c.store.Decrement(ctx, c.keys(subject, c.now()), n)
}

// Stats returns the current counters for subject.
func (c *Controller) Stats(ctx context.Context, subject string) (Stats, error) {
	now := c.now()
	counts, err := c.store.Get(ctx, c.keys(subject, now))
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		SentToday:       counts.Day,
		RemainingToday:  nonNegative(c.limits.Daily - counts.Day),
		DailyLimit:      c.limits.Daily,
		SentInWindow:    counts.Window,
		RemainingWindow: nonNegative(c.limits.Window - counts.Window),
		WindowLimit:     c.limits.Window,
		WindowSeconds:   c.limits.WindowSize.Seconds(),
		ResetAt:         nextMidnightUTC(now),
	}, nil
}

// EstimateDuration is how long n sends take at the window rate.
func (c *Controller) EstimateDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	windows := (n + c.limits.Window - 1) / c.limits.Window
	return time.Duration(windows) * c.limits.WindowSize
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
