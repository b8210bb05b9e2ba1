package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/service/campaign"
	"golang.org/x/sync/errgroup"
)

// deferredRetry is how long a job waits after losing a quota reservation
// race mid-batch.
const deferredRetry = time.Second

// BatchOutcome summarises one ProcessBatch call.
type BatchOutcome struct {
	Attempted int
	Succeeded int
	Failed    int
	// Deferred recipients stay beyond the cursor for a later tick.
	Deferred int
	// RetryAfter is the delay before the next tick when quota held the
	// batch back.
	RetryAfter time.Duration
	// Done is set once the job reached a terminal state.
	Done bool
	// Parked is set when the job was paused while the batch ran.
	Parked bool
}

type sendOutcome struct {
	ok     bool
	reason string
}

// ProcessBatch sends the next batch of job and persists the result. The
// caller must hold the job lock. A terminal job is returned untouched.
//
// Errors are infrastructure failures (queue or quota store); the job is
// left as it was before the batch and may be retried. Per-recipient send
// failures never produce an error.
func (w *SendWorker) ProcessBatch(ctx context.Context, job *domain.SendJob) (BatchOutcome, error) {
	if job.State.IsTerminal() {
		return BatchOutcome{Done: true}, nil
	}
	if job.Cursor >= job.Total {
		return w.finish(ctx, job, BatchOutcome{})
	}

	c, err := w.campaigns.Get(ctx, job.AccountID, job.CampaignID)
	if errors.Is(err, campaign.ErrNotFound) {
		return w.fail(ctx, job, "campaign no longer exists")
	}
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("load campaign: %w", err)
	}

	recipients, err := w.queue.LoadRecipients(ctx, job.ID, job.Cursor, job.BatchSize)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return w.fail(ctx, job, "recipient snapshot missing")
	}

	adm, err := w.quota.CanSend(ctx, w.cfg.QuotaKey, len(recipients))
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("check quota: %w", err)
	}
	if !adm.Allowed {
		retry := adm.RetryAfter
		if retry <= 0 {
			retry = deferredRetry
		}
		w.deferred.Add(int64(len(recipients)))
		logger.Info("send batch held by quota",
			"job_id", job.ID, "remaining_today", adm.RemainingToday, "retry_after", retry.String())
		return BatchOutcome{Deferred: len(recipients), RetryAfter: retry}, nil
	}

	if err := w.begin(ctx, job); err != nil {
		return BatchOutcome{}, err
	}

	batch := recipients[:adm.Admittable]
	results, attempted := w.dispatch(ctx, job, c, batch)

	// Whatever was dispatched must be recorded, even if the lock slipped
	// and ctx was cancelled meanwhile.
	if errors.Is(context.Cause(ctx), distlock.ErrLockLost) {
		logger.Warn("job lock lost mid-batch", "job_id", job.ID, "attempted", attempted)
	}
	ctx = context.WithoutCancel(ctx)

	out := BatchOutcome{Attempted: attempted, Deferred: len(recipients) - attempted}
	var failed []domain.Recipient
	now := w.now().UTC()
	for i := 0; i < attempted; i++ {
		r := results[i]
		if r.ok {
			out.Succeeded++
			continue
		}
		out.Failed++
		failed = append(failed, batch[i])
		if len(job.Errors) < w.cfg.MaxErrors {
			job.Errors = append(job.Errors, domain.SendError{
				RecipientID: batch[i].FanID, Email: batch[i].Email, Reason: r.reason, At: now,
			})
		}
	}

	if len(failed) > 0 {
		if err := w.queue.AppendFailed(ctx, job.ID, failed); err != nil {
			return BatchOutcome{}, fmt.Errorf("record failed recipients: %w", err)
		}
	}

	job.Cursor += attempted
	job.Processed += attempted
	job.Succeeded += out.Succeeded
	job.Failed += out.Failed
	job.UpdateProgress()
	job.UpdatedAt = now

	w.batches.Add(1)
	w.sent.Add(int64(out.Succeeded))
	w.failed.Add(int64(out.Failed))
	w.deferred.Add(int64(out.Deferred))

	logger.Info("send batch processed",
		"job_id", job.ID, "campaign_id", job.CampaignID, "attempted", attempted,
		"succeeded", out.Succeeded, "failed", out.Failed, "deferred", out.Deferred,
		"progress", job.Progress)

	if job.Cursor >= job.Total {
		return w.finish(ctx, job, out)
	}

	job.State = domain.JobQueued
	if w.pausedMeanwhile(ctx, job.ID) {
		job.State = domain.JobPaused
		out.Parked = true
	}
	if err := w.queue.SaveJob(ctx, job); err != nil {
		return BatchOutcome{}, fmt.Errorf("save job: %w", err)
	}
	if attempted < len(batch) {
		out.RetryAfter = deferredRetry
	}
	return out, nil
}

// pausedMeanwhile reports whether the stored job was paused after this
// batch loaded it. Only possible if the job lock lapsed.
func (w *SendWorker) pausedMeanwhile(ctx context.Context, jobID string) bool {
	stored, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn("reload job before save", "job_id", jobID, "error", err)
		return false
	}
	return stored.State == domain.JobPaused
}

// begin moves the job to sending. On a campaign job's first batch the
// campaign follows.
func (w *SendWorker) begin(ctx context.Context, job *domain.SendJob) error {
	now := w.now().UTC()
	if job.StartedAt == nil {
		job.State = domain.JobPreparing
		job.StartedAt = &now
		if job.Kind == domain.JobKindCampaign {
			if err := w.campaigns.MarkSending(ctx, job.AccountID, job.CampaignID); err != nil {
				logger.Warn("mark campaign sending", "campaign_id", job.CampaignID, "error", err)
			}
		}
	}
	if !job.State.CanTransition(domain.JobSending) {
		return fmt.Errorf("job %s cannot send from state %s", job.ID, job.State)
	}
	job.State = domain.JobSending
	job.UpdatedAt = now
	if err := w.queue.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// dispatch reserves quota for one recipient at a time and fans the sends
// out. It stops reserving at the first recipient the quota refuses, so
// results[:attempted] is always a contiguous prefix of batch.
func (w *SendWorker) dispatch(ctx context.Context, job *domain.SendJob, c *domain.Campaign, batch []domain.Recipient) ([]sendOutcome, int) {
	results := make([]sendOutcome, len(batch))
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)

	attempted := 0
	for i, r := range batch {
		if domain.DomainOf(r.Email) == "" {
			results[i] = sendOutcome{reason: "invalid email address"}
			attempted++
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			break
		}
		n, err := w.quota.RecordSent(ctx, w.cfg.QuotaKey, 1)
		if err != nil {
			logger.Warn("reserve quota", "job_id", job.ID, "error", err)
			break
		}
		if n == 0 {
			break
		}
		attempted++
		msg := buildMessage(job, c, r)
		i := i
		g.Go(func() error {
			results[i] = w.sendOne(ctx, msg)
			return nil
		})
	}
	g.Wait()
	return results, attempted
}

func buildMessage(job *domain.SendJob, c *domain.Campaign, r domain.Recipient) *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		CampaignID:  c.ID,
		RecipientID: r.FanID,
		Email:       r.Email,
		ToName:      strings.TrimSpace(r.FirstName + " " + r.LastName),
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		Subject:     c.Subject,
		HTMLContent: c.Content,
		Headers: map[string]string{
			"X-Campaign-ID": c.ID,
			"X-Job-ID":      job.ID,
		},
	}
}

// sendOne calls the provider under SendTimeout. A sender that ignores its
// context is abandoned when the timeout fires. Quota is already recorded,
// so the send is not cut short when the batch context ends.
func (w *SendWorker) sendOne(ctx context.Context, msg *domain.EmailMessage) sendOutcome {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SendTimeout)
	defer cancel()

	type reply struct {
		res *domain.SendResult
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		res, err := w.sender.Send(sctx, msg)
		ch <- reply{res, err}
	}()

	select {
	case <-sctx.Done():
		logger.Warn("send timed out", "job_id", msg.JobID, "email", msg.Email)
		return sendOutcome{reason: "send timed out"}
	case r := <-ch:
		switch {
		case r.err != nil:
			logger.Warn("send failed", "job_id", msg.JobID, "email", msg.Email, "error", r.err)
			return sendOutcome{reason: r.err.Error()}
		case r.res == nil || !r.res.Success:
			reason := "rejected by provider"
			if r.res != nil && r.res.Error != "" {
				reason = r.res.Error
			}
			return sendOutcome{reason: reason}
		}
		return sendOutcome{ok: true}
	}
}

// finish completes the job, then settles the campaign. The job is saved
// first: a terminal job is never dispatched again. If the settle fails the
// error is returned and the next tick settles it from the terminal job.
func (w *SendWorker) finish(ctx context.Context, job *domain.SendJob, out BatchOutcome) (BatchOutcome, error) {
	now := w.now().UTC()
	job.State = domain.JobComplete
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.UpdateProgress()
	if err := w.queue.SaveJob(ctx, job); err != nil {
		return BatchOutcome{}, fmt.Errorf("save completed job: %w", err)
	}
	out.Done = true
	logger.Info("send job complete",
		"job_id", job.ID, "campaign_id", job.CampaignID, "kind", string(job.Kind),
		"succeeded", job.Succeeded, "failed", job.Failed)

	if err := w.settle(ctx, job); err != nil {
		return BatchOutcome{}, err
	}
	return out, nil
}

// fail marks the job failed for a reason no retry can fix.
func (w *SendWorker) fail(ctx context.Context, job *domain.SendJob, reason string) (BatchOutcome, error) {
	now := w.now().UTC()
	job.State = domain.JobFailed
	job.FailedReason = reason
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := w.queue.SaveJob(ctx, job); err != nil {
		return BatchOutcome{}, fmt.Errorf("save failed job: %w", err)
	}
	logger.Error("send job failed", "job_id", job.ID, "campaign_id", job.CampaignID, "reason", reason)

	if err := w.settle(ctx, job); err != nil {
		return BatchOutcome{}, err
	}
	return BatchOutcome{Done: true}, nil
}

// settle applies a terminal job's outcome to its campaign. A campaign that
// is gone or already settled is not an error.
func (w *SendWorker) settle(ctx context.Context, job *domain.SendJob) error {
	var err error
	switch {
	case job.Kind == domain.JobKindRetry && job.State == domain.JobComplete:
		// Count adjustments cannot be told apart from a repeat, so a failure
		// here is logged rather than retried.
		if err := w.campaigns.ApplyRetryOutcome(ctx, job.AccountID, job.CampaignID, job.Succeeded); err != nil {
			logger.Error("apply retry outcome", "campaign_id", job.CampaignID, "job_id", job.ID, "error", err)
		}
		return nil
	case job.Kind != domain.JobKindCampaign:
		return nil
	case job.State == domain.JobComplete:
		err = w.campaigns.MarkSent(ctx, job.AccountID, job.CampaignID, job.Succeeded, job.Failed)
	case job.State == domain.JobFailed:
		err = w.campaigns.MarkFailed(ctx, job.AccountID, job.CampaignID)
	}
	if err == nil || errors.Is(err, campaign.ErrNotFound) || errors.Is(err, campaign.ErrInvalidTransition) {
		return nil
	}
	return fmt.Errorf("settle campaign %s: %w", job.CampaignID, err)
}

// settleTerminal re-settles a terminal campaign job whose campaign still
// shows it as the live job, which happens when settle failed after the job
// was saved.
func (w *SendWorker) settleTerminal(ctx context.Context, job *domain.SendJob) error {
	if job.Kind != domain.JobKindCampaign {
		return nil
	}
	c, err := w.campaigns.Get(ctx, job.AccountID, job.CampaignID)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if !c.HasLiveJob() || c.LastJobID != job.ID {
		return nil
	}
	logger.Warn("settling campaign left live by a terminal job", "campaign_id", c.ID, "job_id", job.ID)
	return w.settle(ctx, job)
}
