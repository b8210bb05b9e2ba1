// Package distlock provides cross-process mutual exclusion for work that
// must run on exactly one worker at a time: per-job batch processing, the
// per-campaign enqueue path, and the stale lease recovery sweep.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotHeld is returned by Release and Extend when the lock is not
	// owned by the caller.
	ErrNotHeld = errors.New("lock not held")

	// ErrLockLost is the cancellation cause of a Hold context whose lock
	// could not be kept alive.
	ErrLockLost = errors.New("lock lost")
)

// DistLock is the interface for distributed locking.
// A DistLock instance represents one acquisition attempt; it must not be
// shared between goroutines.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
	// Extend pushes the expiry out to ttl from now while we still own it.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Factory builds a fresh lock for key.
type Factory func(key string, ttl time.Duration) DistLock

// NewFactory returns a Factory using the best available backend: Redis when
// redisClient is non-nil, PostgreSQL advisory locks when only db is set, and
// an in-process lock table otherwise.
func NewFactory(redisClient *redis.Client, db *sql.DB) Factory {
	switch {
	case redisClient != nil:
		return func(key string, ttl time.Duration) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string, _ time.Duration) DistLock { return NewPGAdvisoryLock(db, key) }
	default:
		return NewLocalTable().Factory()
	}
}

// WithLock runs fn while holding key, extending the lock for as long as fn
// runs. It returns (false, nil) without calling fn when another holder owns
// the lock. fn's context is cancelled with ErrLockLost if the lock slips.
func WithLock(ctx context.Context, f Factory, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	lock := f(key, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	hctx, stop := Hold(ctx, lock, ttl)
	defer stop()
	return true, fn(hctx)
}

// Hold extends an acquired lock every ttl/3 until stop is called. The
// returned context is cancelled with cause ErrLockLost once the lock is
// reported gone, or once extensions have failed for a whole ttl.
func Hold(ctx context.Context, lock DistLock, ttl time.Duration) (context.Context, func()) {
	hctx, cancel := context.WithCancelCause(ctx)
	if ttl <= 0 {
		return hctx, func() { cancel(nil) }
	}
	every := ttl / 3
	if every <= 0 {
		every = ttl
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		extended := time.Now()
		for {
			select {
			case <-done:
				return
			case <-hctx.Done():
				return
			case <-t.C:
			}
			ectx, ecancel := context.WithTimeout(context.WithoutCancel(hctx), every)
			err := lock.Extend(ectx, ttl)
			ecancel()
			switch {
			case err == nil:
				extended = time.Now()
			case errors.Is(err, ErrNotHeld) || time.Since(extended) >= ttl:
				cancel(ErrLockLost)
				return
			}
		}
	}()
	return hctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

// PGAdvisoryLock implements DistLock using PostgreSQL session advisory locks.
// The lock lives on one pooled connection which is pinned from Acquire until
// Release, so the unlock runs on the session that took it.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire calls pg_try_advisory_lock, which never blocks.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// Extend checks the pinned session is still alive. Session locks do not
// expire, so there is nothing to push out.
func (l *PGAdvisoryLock) Extend(ctx context.Context, _ time.Duration) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	return l.conn.PingContext(ctx)
}

// LocalTable is an in-process lock table for single-binary deployments and
// tests. Entries expire after their ttl like the Redis backend.
type LocalTable struct {
	mu   sync.Mutex
	held map[string]localHold
	now  func() time.Time
}

type localHold struct {
	owner *localLock
	exp   time.Time
}

// NewLocalTable creates an empty lock table.
func NewLocalTable() *LocalTable {
	return &LocalTable{held: make(map[string]localHold), now: time.Now}
}

// Factory returns a Factory whose locks share this table.
func (t *LocalTable) Factory() Factory {
	return func(key string, ttl time.Duration) DistLock {
		return &localLock{table: t, key: key, ttl: ttl}
	}
}

type localLock struct {
	table *LocalTable
	key   string
	ttl   time.Duration
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Hour
	}
	return ttl
}

func (l *localLock) Acquire(_ context.Context) (bool, error) {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if h, ok := t.held[l.key]; ok && now.Before(h.exp) {
		return false, nil
	}
	t.held[l.key] = localHold{owner: l, exp: now.Add(ttlOrDefault(l.ttl))}
	return true, nil
}

// owns reports whether l holds an unexpired entry. Callers hold t.mu.
func (l *localLock) owns(now time.Time) bool {
	h, ok := l.table.held[l.key]
	return ok && h.owner == l && now.Before(h.exp)
}

func (l *localLock) Release(_ context.Context) error {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.held[l.key]; !ok || h.owner != l {
		return ErrNotHeld
	}
	delete(t.held, l.key)
	return nil
}

func (l *localLock) Extend(_ context.Context, ttl time.Duration) error {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !l.owns(now) {
		return ErrNotHeld
	}
	t.held[l.key] = localHold{owner: l, exp: now.Add(ttlOrDefault(ttl))}
	return nil
}
