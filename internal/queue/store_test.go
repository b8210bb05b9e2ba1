package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisStore(t *testing.T, clk *clock) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisStore(client, WithPollInterval(5*time.Millisecond))
	s.now = clk.Now
	return s
}

func newMemoryStore(clk *clock) *MemoryStore {
	s := NewMemoryStore()
	s.SetClock(clk.Now)
	return s
}

// stores runs fn against both implementations.
func stores(t *testing.T, fn func(t *testing.T, s Store, clk *clock)) {
	t.Run("redis", func(t *testing.T) {
		clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
		fn(t, newRedisStore(t, clk), clk)
	})
	t.Run("memory", func(t *testing.T) {
		clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
		fn(t, newMemoryStore(clk), clk)
	})
}

func recipients(n int) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{FanID: string(rune('a' + i)), Email: string(rune('a'+i)) + "@example.com"}
	}
	return out
}

func TestJobSnapshotRoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		job := &domain.SendJob{ID: "job-1", CampaignID: "c1", State: domain.JobQueued, Total: 10, Cursor: 4,
			Errors: []domain.SendError{{RecipientID: "f1", Reason: "bounce"}}}
		require.NoError(t, s.SaveJob(ctx, job))

		got, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobQueued, got.State)
		assert.Equal(t, 4, got.Cursor)
		require.Len(t, got.Errors, 1)

		_, err = s.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestRecipientsPaging(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		require.NoError(t, s.SaveRecipients(ctx, "job-1", recipients(5)))

		page, err := s.LoadRecipients(ctx, "job-1", 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "a", page[0].FanID)

		page, err = s.LoadRecipients(ctx, "job-1", 4, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "e", page[0].FanID)

		page, err = s.LoadRecipients(ctx, "job-1", 5, 2)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestFailedRecipientsAccumulate(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		rs := recipients(3)
		require.NoError(t, s.AppendFailed(ctx, "job-1", rs[:1]))
		require.NoError(t, s.AppendFailed(ctx, "job-1", rs[2:]))

		failed, err := s.LoadFailed(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, "c", failed[1].FanID)
	})
}

func TestDequeueFIFOAndEmpty(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, "j1"))
		require.NoError(t, s.Enqueue(ctx, "j2"))

		l, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "j1", l.JobID)
		assert.NotEmpty(t, l.Token)
		l, err = s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "j2", l.JobID)

		_, err = s.Dequeue(ctx, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrEmpty)

		d, err := s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), d.Processing)
	})
}

func TestEnqueueAfterWaitsForDueTime(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		require.NoError(t, s.EnqueueAfter(ctx, "j1", time.Minute))

		_, err := s.Dequeue(ctx, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrEmpty)

		clk.Advance(time.Minute)
		l, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "j1", l.JobID)
	})
}

func TestRecoverStaleLeases(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, "crashed"))
		require.NoError(t, s.Enqueue(ctx, "healthy"))

		_, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		clk.Advance(10 * time.Minute)
		healthy, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, s.Ack(ctx, healthy))

		n, err := s.RecoverStale(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		l, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "crashed", l.JobID)
	})
}

func TestAckOnlyDropsItsOwnLease(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, "j1"))
		first, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)

		// The id goes back on ready before the first holder acks, and a
		// second worker picks it up in between.
		require.NoError(t, s.EnqueueAfter(ctx, "j1", 0))
		second, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "j1", second.JobID)
		assert.NotEqual(t, first.Token, second.Token)

		require.NoError(t, s.Ack(ctx, first))
		d, err := s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Processing: 1}, d)

		// The second worker dies; its lease is still recoverable.
		clk.Advance(time.Hour)
		n, err := s.RecoverStale(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		d, err = s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Ready: 1}, d)
	})
}

func TestRequeueSwapsLeaseForQueueEntry(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, "j1"))
		l, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)

		require.NoError(t, s.Requeue(ctx, l, time.Minute))
		d, err := s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Delayed: 1}, d)

		// A late ack of the old lease changes nothing.
		require.NoError(t, s.Ack(ctx, l))
		clk.Advance(time.Minute)
		next, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "j1", next.JobID)

		require.NoError(t, s.Requeue(ctx, next, 0))
		d, err = s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Ready: 1}, d)
	})
}

func TestEnqueueIsIdempotentWhileWaiting(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, "j1"))
		require.NoError(t, s.Enqueue(ctx, "j1"))
		require.NoError(t, s.EnqueueAfter(ctx, "j1", time.Minute))

		d, err := s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Ready: 1}, d)

		l, err := s.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, s.Ack(ctx, l))
		_, err = s.Dequeue(ctx, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrEmpty)

		// Enqueue promotes a delayed id instead of adding a second entry.
		require.NoError(t, s.EnqueueAfter(ctx, "j1", time.Minute))
		require.NoError(t, s.Enqueue(ctx, "j1"))
		d, err = s.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, Depth{Ready: 1}, d)
	})
}

func TestDeleteJobRemovesEverything(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx := context.Background()
		require.NoError(t, s.SaveJob(ctx, &domain.SendJob{ID: "j1"}))
		require.NoError(t, s.SaveRecipients(ctx, "j1", recipients(2)))
		require.NoError(t, s.Enqueue(ctx, "j1"))

		require.NoError(t, s.DeleteJob(ctx, "j1"))

		_, err := s.GetJob(ctx, "j1")
		assert.ErrorIs(t, err, ErrJobNotFound)
		page, err := s.LoadRecipients(ctx, "j1", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
		_, err = s.Dequeue(ctx, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrEmpty)
	})
}

func TestDequeueHonoursContext(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *clock) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Dequeue(ctx, time.Second)
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrEmpty))
	})
}

func TestNewJobIDIsULID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.NotEqual(t, a, b)
	_, err := ulid.Parse(a)
	assert.NoError(t, err)
}
