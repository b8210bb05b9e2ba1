// Package queue persists send jobs, their recipient snapshots and the work
// queue that hands job ids to workers.
//
// A job id moves between three places:
//
//	ready ──Dequeue──▶ processing (leased) ──Ack──▶ gone
//	  ▲                     │
//	  └──── delayed ◀───────┘ Requeue
//
// An id waits in ready at most once: enqueueing an id that is already
// waiting is a no-op, and enqueueing a delayed id promotes it. Every lease
// carries its own token, so a worker can only ack or requeue the lease it
// was handed, even when the same id has since been dequeued again. A lease
// that is never acked is returned to ready by RecoverStale.
package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrJobNotFound is returned when a job id has no stored snapshot.
	ErrJobNotFound = errors.New("send job not found")

	// ErrEmpty is returned by Dequeue when no job became ready before the timeout.
	ErrEmpty = errors.New("queue empty")
)

// Depth counts job ids in each queue area.
type Depth struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
}

// Lease is one worker's claim on a dequeued job id.
type Lease struct {
	JobID string
	Token string
}

// Store is the job and queue persistence used by the scheduler and workers.
type Store interface {
	SaveJob(ctx context.Context, job *domain.SendJob) error
	GetJob(ctx context.Context, id string) (*domain.SendJob, error)
	DeleteJob(ctx context.Context, id string) error

	SaveRecipients(ctx context.Context, jobID string, recipients []domain.Recipient) error
	LoadRecipients(ctx context.Context, jobID string, offset, limit int) ([]domain.Recipient, error)
	AppendFailed(ctx context.Context, jobID string, recipients []domain.Recipient) error
	LoadFailed(ctx context.Context, jobID string) ([]domain.Recipient, error)

	Enqueue(ctx context.Context, jobID string) error
	EnqueueAfter(ctx context.Context, jobID string, delay time.Duration) error
	Dequeue(ctx context.Context, timeout time.Duration) (Lease, error)
	// Ack drops the lease. Acking a lease that was recovered or already
	// acked is a no-op.
	Ack(ctx context.Context, lease Lease) error
	// Requeue drops the lease and enqueues its id after delay in one step.
	Requeue(ctx context.Context, lease Lease, delay time.Duration) error
	RecoverStale(ctx context.Context, lease time.Duration) (int, error)
	Depth(ctx context.Context) (Depth, error)
}

// NewJobID returns a time-sortable job identifier.
func NewJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

func newLeaseToken() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// JobLockKey names the lock held while a job snapshot is read, modified and
// written back. Workers and operator controls both take it.
func JobLockKey(jobID string) string { return "job:" + jobID }

// JobControlKey names the lock an operator control holds while it waits
// for JobLockKey. Workers skip a tick while it is held.
func JobControlKey(jobID string) string { return "job-control:" + jobID }
