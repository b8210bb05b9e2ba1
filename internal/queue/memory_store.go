package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/fanmail/internal/domain"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[string]domain.SendJob
	recipients map[string][]domain.Recipient
	failed     map[string][]domain.Recipient
	ready      []string
	waiting    map[string]bool
	delayed    map[string]time.Time
	processing map[string]heldLease
	now        func() time.Time
	signal     chan struct{}

	// FailEnqueue makes Enqueue, EnqueueAfter and Requeue return this error.
	FailEnqueue error
}

type heldLease struct {
	jobID string
	at    time.Time
}

// NewMemoryStore creates an empty in-memory queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]domain.SendJob),
		recipients: make(map[string][]domain.Recipient),
		failed:     make(map[string][]domain.Recipient),
		waiting:    make(map[string]bool),
		delayed:    make(map[string]time.Time),
		processing: make(map[string]heldLease),
		now:        time.Now,
		signal:     make(chan struct{}, 1),
	}
}

// SetClock replaces the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func cloneJob(j domain.SendJob) *domain.SendJob {
	j.Errors = append([]domain.SendError(nil), j.Errors...)
	return &j
}

func (m *MemoryStore) SaveJob(_ context.Context, job *domain.SendJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *cloneJob(*job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*domain.SendJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	delete(m.recipients, id)
	delete(m.failed, id)
	delete(m.delayed, id)
	delete(m.waiting, id)
	for token, l := range m.processing {
		if l.jobID == id {
			delete(m.processing, token)
		}
	}
	m.ready = removeID(m.ready, id)
	return nil
}

func (m *MemoryStore) SaveRecipients(_ context.Context, jobID string, recipients []domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[jobID] = append([]domain.Recipient(nil), recipients...)
	return nil
}

func (m *MemoryStore) LoadRecipients(_ context.Context, jobID string, offset, limit int) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.recipients[jobID]
	if offset >= len(all) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]domain.Recipient(nil), all[offset:end]...), nil
}

func (m *MemoryStore) AppendFailed(_ context.Context, jobID string, recipients []domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[jobID] = append(m.failed[jobID], recipients...)
	return nil
}

func (m *MemoryStore) LoadFailed(_ context.Context, jobID string) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Recipient(nil), m.failed[jobID]...), nil
}

func (m *MemoryStore) Enqueue(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEnqueue != nil {
		return m.FailEnqueue
	}
	m.pushReady(jobID)
	return nil
}

func (m *MemoryStore) EnqueueAfter(ctx context.Context, jobID string, delay time.Duration) error {
	if delay <= 0 {
		return m.Enqueue(ctx, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEnqueue != nil {
		return m.FailEnqueue
	}
	m.pushDelayed(jobID, delay)
	return nil
}

// pushReady appends id to ready unless it is already waiting there. A
// delayed entry for id is promoted. Callers hold mu.
func (m *MemoryStore) pushReady(id string) {
	delete(m.delayed, id)
	if m.waiting[id] {
		return
	}
	m.ready = append(m.ready, id)
	m.waiting[id] = true
	m.notify()
}

func (m *MemoryStore) pushDelayed(id string, delay time.Duration) {
	if m.waiting[id] {
		return
	}
	m.delayed[id] = m.now().Add(delay)
}

func (m *MemoryStore) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) tryPop() (Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, due := range m.delayed {
		if !due.After(now) {
			m.pushReady(id)
		}
	}
	if len(m.ready) == 0 {
		return Lease{}, false
	}
	id := m.ready[0]
	m.ready = m.ready[1:]
	delete(m.waiting, id)
	l := Lease{JobID: id, Token: newLeaseToken()}
	m.processing[l.Token] = heldLease{jobID: id, at: now}
	return l, true
}

func (m *MemoryStore) Dequeue(ctx context.Context, timeout time.Duration) (Lease, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if l, ok := m.tryPop(); ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-timer.C:
			if l, ok := m.tryPop(); ok {
				return l, nil
			}
			return Lease{}, ErrEmpty
		case <-m.signal:
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *MemoryStore) Ack(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processing, lease.Token)
	return nil
}

func (m *MemoryStore) Requeue(_ context.Context, lease Lease, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEnqueue != nil {
		return m.FailEnqueue
	}
	delete(m.processing, lease.Token)
	if delay <= 0 {
		m.pushReady(lease.JobID)
	} else {
		m.pushDelayed(lease.JobID, delay)
	}
	return nil
}

func (m *MemoryStore) RecoverStale(_ context.Context, lease time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-lease)
	n := 0
	for token, l := range m.processing {
		if !l.at.After(cutoff) {
			delete(m.processing, token)
			m.pushReady(l.jobID)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Depth(_ context.Context) (Depth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Depth{
		Ready:      int64(len(m.ready)),
		Delayed:    int64(len(m.delayed)),
		Processing: int64(len(m.processing)),
	}, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
