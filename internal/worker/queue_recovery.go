package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
)

// A send job whose worker crashed mid-batch keeps its lease in the
// processing set forever. The recovery sweep runs on the worker's cron
// schedule and puts such jobs back on the ready list; the next tick resumes
// from the job's persisted cursor.

const recoveryLockKey = "send-queue-recovery"

// RecoverStale returns leases older than LeaseTTL to the ready list. Only
// one process runs it at a time.
func (w *SendWorker) RecoverStale(ctx context.Context) (int, error) {
	var n int
	ran, err := distlock.WithLock(ctx, w.locks, recoveryLockKey, time.Minute, func(ctx context.Context) error {
		var err error
		n, err = w.queue.RecoverStale(ctx, w.cfg.LeaseTTL)
		return err
	})
	if err != nil || !ran {
		return 0, err
	}
	w.recovered.Add(int64(n))
	return n, nil
}

func (w *SendWorker) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := w.RecoverStale(ctx)
	if err != nil {
		logger.Error("recover stale send jobs", "error", err)
		return
	}
	if n > 0 {
		log.Printf("[QueueRecovery] requeued %d stale send jobs", n)
	}
}
