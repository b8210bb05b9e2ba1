package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func setupRedisController(t *testing.T, limits Limits) (*Controller, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewController(NewRedisStore(client), limits)
	c.SetClock(fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
	return c, mr
}

func TestCanSend_FreshSubject(t *testing.T) {
	c, _ := setupRedisController(t, Limits{Daily: 100, Window: 10, WindowSize: time.Second})

	adm, err := c.CanSend(context.Background(), "ses", 25)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 10, adm.Admittable)
	assert.Equal(t, 100, adm.RemainingToday)
	assert.Equal(t, 10, adm.RemainingWindow)
}

func TestCanSend_IsReadOnly(t *testing.T) {
	c, _ := setupRedisController(t, Limits{Daily: 100, Window: 10, WindowSize: time.Second})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.CanSend(ctx, "ses", 10)
		require.NoError(t, err)
	}
	stats, err := c.Stats(ctx, "ses")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SentToday)
}

func TestRecordSent_CapsAtCeiling(t *testing.T) {
	c, _ := setupRedisController(t, Limits{Daily: 5, Window: 100, WindowSize: time.Minute})
	ctx := context.Background()

	got, err := c.RecordSent(ctx, "ses", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = c.RecordSent(ctx, "ses", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = c.RecordSent(ctx, "ses", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	adm, err := c.CanSend(ctx, "ses", 1)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 0, adm.RemainingToday)
	assert.Equal(t, 12*time.Hour, adm.RetryAfter)
}

func TestRecordSent_ConcurrentWorkersNeverOversend(t *testing.T) {
	const limit = 100
	c, _ := setupRedisController(t, Limits{Daily: limit, Window: 1000, WindowSize: time.Hour})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		granted int
		wg      sync.WaitGroup
	)
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				n, err := c.RecordSent(ctx, "ses", 1)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				granted += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
	stats, err := c.Stats(ctx, "ses")
	require.NoError(t, err)
	assert.Equal(t, limit, stats.SentToday)
	assert.Equal(t, 0, stats.RemainingToday)
}

func TestWindowShrinksAdmission(t *testing.T) {
	c, _ := setupRedisController(t, Limits{Daily: 1000, Window: 14, WindowSize: time.Second})
	ctx := context.Background()

	_, err := c.RecordSent(ctx, "ses", 10)
	require.NoError(t, err)

	adm, err := c.CanSend(ctx, "ses", 25)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 4, adm.Admittable)

	_, err = c.RecordSent(ctx, "ses", 4)
	require.NoError(t, err)
	adm, err = c.CanSend(ctx, "ses", 25)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 986, adm.RemainingToday)
	assert.Equal(t, time.Second, adm.RetryAfter)
}

func TestRelease_RollsBack(t *testing.T) {
	c, _ := setupRedisController(t, Limits{Daily: 10, Window: 10, WindowSize: time.Minute})
	ctx := context.Background()

	_, err := c.RecordSent(ctx, "ses", 6)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "ses", 2))
	require.NoError(t, c.Release(ctx, "ses", 50))

	stats, err := c.Stats(ctx, "ses")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SentToday)
	assert.Equal(t, 0, stats.SentInWindow)
}

func TestStoreOutageFailsClosed(t *testing.T) {
	c, mr := setupRedisController(t, DefaultLimits())
	mr.Close()
	ctx := context.Background()

	adm, err := c.CanSend(ctx, "ses", 1)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 0, adm.Admittable)

	n, err := c.RecordSent(ctx, "ses", 1)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 0, n)
}

func TestDayRollsOverAtUTCMidnight(t *testing.T) {
	store := NewMemoryStore()
	c := NewController(store, Limits{Daily: 3, Window: 100, WindowSize: time.Second})
	ctx := context.Background()

	c.SetClock(fixedClock(time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)))
	n, err := c.RecordSent(ctx, "ses", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	adm, err := c.CanSend(ctx, "ses", 1)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, time.Second, adm.RetryAfter)

	c.SetClock(fixedClock(time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)))
	adm, err = c.CanSend(ctx, "ses", 1)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 3, adm.RemainingToday)
}

func TestDayKeyUsesUTC(t *testing.T) {
	c := NewController(NewMemoryStore(), DefaultLimits())
	lagos := time.FixedZone("WAT", 3600)
	k := c.keys("ses", time.Date(2026, 3, 11, 0, 30, 0, 0, lagos))
	assert.Equal(t, "quota:ses:day:2026-03-10", k.Day)
	assert.Equal(t, 25*time.Hour, k.DayTTL)
	assert.Equal(t, 2*time.Second, k.WindowTTL)
}

func TestMemoryStoreFailFlag(t *testing.T) {
	store := NewMemoryStore()
	store.Fail = true
	c := NewController(store, DefaultLimits())

	_, err := c.CanSend(context.Background(), "ses", 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestEstimateDuration(t *testing.T) {
	c := NewController(NewMemoryStore(), Limits{Daily: 1000, Window: 14, WindowSize: time.Second})
	assert.Equal(t, time.Duration(0), c.EstimateDuration(0))
	assert.Equal(t, time.Second, c.EstimateDuration(14))
	assert.Equal(t, 8*time.Second, c.EstimateDuration(100))
}
