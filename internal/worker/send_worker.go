package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/queue"
	"github.com/ignite/fanmail/internal/quota"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Campaigns is the campaign lifecycle the worker drives.
type Campaigns interface {
	Get(ctx context.Context, accountID, id string) (*domain.Campaign, error)
	MarkSending(ctx context.Context, accountID, id string) error
	MarkSent(ctx context.Context, accountID, id string, sent, failed int) error
	MarkFailed(ctx context.Context, accountID, id string) error
	ApplyRetryOutcome(ctx context.Context, accountID, id string, recovered int) error
}

// Config tunes a SendWorker.
type Config struct {
	// Workers is the number of goroutines pulling jobs off the queue.
	Workers int
	// Concurrency bounds sends in flight within one batch.
	Concurrency    int
	SendTimeout    time.Duration
	DequeueTimeout time.Duration
	// LeaseTTL is how long a dequeued job may go unacked before the
	// recovery sweep hands it to another worker.
	LeaseTTL time.Duration
	// LockTTL is the job lock's lease. It is extended while a batch runs,
	// so it only bounds how long a crashed worker keeps the job locked.
	LockTTL      time.Duration
	RecoverySpec string
	QuotaKey     string
	// ErrorBackoff delays a job whose batch hit an infrastructure error.
	ErrorBackoff time.Duration
	MaxErrors    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		Concurrency:    10,
		SendTimeout:    30 * time.Second,
		DequeueTimeout: 2 * time.Second,
		LeaseTTL:       5 * time.Minute,
		LockTTL:        30 * time.Second,
		RecoverySpec:   "@every 1m",
		QuotaKey:       string(domain.ESPSES),
		ErrorBackoff:   5 * time.Second,
		MaxErrors:      100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = def.DequeueTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = def.LeaseTTL
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if c.RecoverySpec == "" {
		c.RecoverySpec = def.RecoverySpec
	}
	if c.QuotaKey == "" {
		c.QuotaKey = def.QuotaKey
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = def.MaxErrors
	}
	return c
}

// Deps groups the collaborators of a SendWorker.
type Deps struct {
	Queue     queue.Store
	Quota     *quota.Controller
	Campaigns Campaigns
	Sender    Sender
	Locks     distlock.Factory
}

// Stats is a snapshot of worker counters since start.
type Stats struct {
	WorkerID  string `json:"workerId"`
	Running   bool   `json:"running"`
	Batches   int64  `json:"batches"`
	Sent      int64  `json:"sent"`
	Failed    int64  `json:"failed"`
	Deferred  int64  `json:"deferred"`
	Recovered int64  `json:"recovered"`
}

// SendWorker drains send jobs one batch per tick. Each tick holds the job's
// lock, so one job is never processed by two workers at once and operator
// pause/resume wait for the batch in flight.
type SendWorker struct {
	queue     queue.Store
	quota     *quota.Controller
	campaigns Campaigns
	sender    Sender
	locks     distlock.Factory
	limiter   *rate.Limiter
	cfg       Config
	workerID  string
	now       func() time.Time

	// Stats
	batches   atomic.Int64
	sent      atomic.Int64
	failed    atomic.Int64
	deferred  atomic.Int64
	recovered atomic.Int64

	// Control
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// NewSendWorker creates a worker. Sends are paced at the quota window rate
// across all goroutines of this process.
func NewSendWorker(d Deps, cfg Config) *SendWorker {
	cfg = cfg.withDefaults()
	if d.Locks == nil {
		d.Locks = distlock.NewLocalTable().Factory()
	}
	lim := d.Quota.Limits()
	return &SendWorker{
		queue:     d.Queue,
		quota:     d.Quota,
		campaigns: d.Campaigns,
		sender:    d.Sender,
		locks:     d.Locks,
		limiter:   rate.NewLimiter(rate.Every(lim.WindowSize/time.Duration(lim.Window)), lim.Window),
		cfg:       cfg,
		workerID:  fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		now:       time.Now,
	}
}

// Start launches the dequeue goroutines and the recovery schedule. It
// returns immediately; call Stop to shut down.
func (w *SendWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("send worker already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(w.cfg.RecoverySpec, func() { w.sweep(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule recovery %q: %w", w.cfg.RecoverySpec, err)
	}

	log.Printf("[SendWorker] %s starting %d workers (concurrency=%d, recovery=%s)",
		w.workerID, w.cfg.Workers, w.cfg.Concurrency, w.cfg.RecoverySpec)

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	c.Start()

	w.cron = c
	w.cancel = cancel
	w.running = true
	return nil
}

// Stop cancels dequeueing and waits for batches in flight to finish.
func (w *SendWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, c := w.cancel, w.cron
	w.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	w.wg.Wait()
	log.Printf("[SendWorker] %s stopped (sent=%d failed=%d)", w.workerID, w.sent.Load(), w.failed.Load())
}

// Stats returns the current counters.
func (w *SendWorker) Stats() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	return Stats{
		WorkerID:  w.workerID,
		Running:   running,
		Batches:   w.batches.Load(),
		Sent:      w.sent.Load(),
		Failed:    w.failed.Load(),
		Deferred:  w.deferred.Load(),
		Recovered: w.recovered.Load(),
	}
}

func (w *SendWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for ctx.Err() == nil {
		lease, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue send job", "worker_id", w.workerID, "error", err)
			sleep(ctx, w.cfg.ErrorBackoff)
			continue
		}
		w.handle(ctx, lease)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// operatorBackoff is how long a tick steps aside for a waiting pause or
// resume.
const operatorBackoff = 250 * time.Millisecond

// handle runs one tick for a dequeued lease. Requeue swaps the lease for a
// queue entry in one step; if the worker dies before that, the lease
// expires and the recovery sweep returns the job to ready.
func (w *SendWorker) handle(ctx context.Context, lease queue.Lease) {
	// Batches run to completion on shutdown; only new ticks are refused.
	bg := context.WithoutCancel(ctx)
	jobID := lease.JobID

	var next time.Duration
	requeue := false
	if w.operatorWaiting(bg, jobID) {
		requeue, next = true, operatorBackoff
	} else {
		ran, err := distlock.WithLock(bg, w.locks, queue.JobLockKey(jobID), w.cfg.LockTTL, func(ctx context.Context) error {
			var err error
			requeue, next, err = w.Tick(ctx, jobID)
			return err
		})
		switch {
		case err != nil && !ran:
			logger.Error("lock send job", "job_id", jobID, "error", err)
			requeue, next = true, w.cfg.ErrorBackoff
		case err != nil:
			logger.Error("send batch failed, will retry", "job_id", jobID, "error", err)
			requeue, next = true, w.cfg.ErrorBackoff
		case !ran:
			// Another holder has it: an operator control or a second entry.
			requeue, next = true, time.Second
		}
	}

	if requeue {
		if err := w.queue.Requeue(bg, lease, next); err != nil {
			// Leave the lease in place; the recovery sweep returns it to ready.
			logger.Error("requeue send job", "job_id", jobID, "error", err)
		}
		return
	}
	if err := w.queue.Ack(bg, lease); err != nil {
		logger.Error("ack send job", "job_id", jobID, "error", err)
	}
}

// operatorWaiting reports whether a pause or resume is queued up for the
// job lock. Ticks step aside so operator controls are not starved by a
// job that is requeued back to back.
func (w *SendWorker) operatorWaiting(ctx context.Context, jobID string) bool {
	lock := w.locks(queue.JobControlKey(jobID), w.cfg.LockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		logger.Warn("check job control lock", "job_id", jobID, "error", err)
		return false
	}
	if !ok {
		return true
	}
	lock.Release(ctx)
	return false
}

// Tick processes at most one batch of jobID. The caller must hold the job
// lock. It reports whether the job needs another tick and after what delay.
func (w *SendWorker) Tick(ctx context.Context, jobID string) (requeue bool, after time.Duration, err error) {
	job, err := w.queue.GetJob(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		logger.Warn("dropping unknown send job", "job_id", jobID)
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("load job: %w", err)
	}
	if job.State.IsTerminal() {
		if err := w.settleTerminal(ctx, job); err != nil {
			return false, 0, err
		}
		return false, 0, nil
	}
	if job.State == domain.JobPaused {
		// Parked. Resume puts a paused job back on the queue.
		return false, 0, nil
	}

	out, err := w.ProcessBatch(ctx, job)
	if err != nil {
		return false, 0, err
	}
	if out.Done || out.Parked {
		return false, 0, nil
	}
	return true, out.RetryAfter, nil
}
