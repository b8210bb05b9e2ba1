package sending

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/queue"
)

// JobStatus is the polling view of a send job.
type JobStatus struct {
	ID           string             `json:"id"`
	CampaignID   string             `json:"campaignId"`
	Kind         domain.JobKind     `json:"kind"`
	State        domain.JobState    `json:"state"`
	Progress     int                `json:"progress"`
	Total        int                `json:"total"`
	Processed    int                `json:"processed"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	FailedReason string             `json:"failedReason,omitempty"`
	Errors       []domain.SendError `json:"errors,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
}

// StatusOf converts a job snapshot to its polling view.
func StatusOf(j *domain.SendJob) *JobStatus {
	return &JobStatus{
		ID:           j.ID,
		CampaignID:   j.CampaignID,
		Kind:         j.Kind,
		State:        j.State,
		Progress:     j.Progress,
		Total:        j.Total,
		Processed:    j.Processed,
		Succeeded:    j.Succeeded,
		Failed:       j.Failed,
		FailedReason: j.FailedReason,
		Errors:       j.Errors,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func (s *Service) loadJob(ctx context.Context, accountID, jobID string) (*domain.SendJob, error) {
	if accountID == "" {
		return nil, ErrUnauthorized
	}
	if jobID == "" {
		return nil, ErrNotFound
	}
	job, err := s.queue.GetJob(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}
	if job.AccountID != accountID {
		return nil, ErrNotFound
	}
	return job, nil
}

// GetJobStatus returns the current snapshot. It has no side effects.
func (s *Service) GetJobStatus(ctx context.Context, accountID, jobID string) (*JobStatus, error) {
	job, err := s.loadJob(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	return StatusOf(job), nil
}

// withJobLock waits up to LockWait for the worker to finish its batch. It
// first takes the job's control lock, which makes workers step aside, so
// the wait is at most the batch in flight.
func (s *Service) withJobLock(ctx context.Context, jobID string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	control := s.locks(queue.JobControlKey(jobID), s.cfg.LockTTL)
	if err := s.acquire(ctx, control); err != nil {
		return err
	}
	defer control.Release(context.WithoutCancel(ctx))
	ctx, stopControl := distlock.Hold(ctx, control, s.cfg.LockTTL)
	defer stopControl()

	lock := s.locks(queue.JobLockKey(jobID), s.cfg.LockTTL)
	if err := s.acquire(ctx, lock); err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))
	ctx, stop := distlock.Hold(ctx, lock, s.cfg.LockTTL)
	defer stop()
	return fn(ctx)
}

// acquire polls lock until it is taken or ctx ends.
func (s *Service) acquire(ctx context.Context, lock distlock.DistLock) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return wrap(ErrInternal, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrJobBusy
		case <-ticker.C:
		}
	}
}

// Pause stops a job from dispatching further batches. A batch already in
// flight finishes first. Pausing a paused job is a no-op.
func (s *Service) Pause(ctx context.Context, accountID, jobID string) (*JobStatus, error) {
	if _, err := s.loadJob(ctx, accountID, jobID); err != nil {
		return nil, err
	}

	var out *JobStatus
	err := s.withJobLock(ctx, jobID, func(ctx context.Context) error {
		job, err := s.loadJob(ctx, accountID, jobID)
		if err != nil {
			return err
		}
		switch {
		case job.State == domain.JobPaused:
			out = StatusOf(job)
			return nil
		case job.State.IsTerminal():
			return ErrJobTerminal
		case job.State == domain.JobCreated || job.State == domain.JobPreparing:
			// Not yet picked up; treat as queued for pausing purposes.
			job.State = domain.JobQueued
		}
		if !job.State.CanTransition(domain.JobPaused) {
			return ErrJobTerminal
		}
		job.State = domain.JobPaused
		job.UpdatedAt = s.now().UTC()
		if err := s.queue.SaveJob(ctx, job); err != nil {
			return wrap(ErrInternal, err)
		}
		if job.Kind == domain.JobKindCampaign {
			if err := s.campaigns.MarkPaused(ctx, accountID, job.CampaignID); err != nil {
				logger.Warn("mirror pause on campaign", "campaign_id", job.CampaignID, "error", err)
			}
		}
		out = StatusOf(job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("send job paused", "job_id", jobID, "account_id", accountID)
	return out, nil
}

// Resume puts a paused job back on the queue. Resuming a live job that is
// not paused is a no-op.
func (s *Service) Resume(ctx context.Context, accountID, jobID string) (*JobStatus, error) {
	if _, err := s.loadJob(ctx, accountID, jobID); err != nil {
		return nil, err
	}

	var out *JobStatus
	err := s.withJobLock(ctx, jobID, func(ctx context.Context) error {
		job, err := s.loadJob(ctx, accountID, jobID)
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			return ErrJobTerminal
		}
		if job.State != domain.JobPaused {
			out = StatusOf(job)
			return nil
		}
		job.State = domain.JobQueued
		job.UpdatedAt = s.now().UTC()
		if err := s.queue.SaveJob(ctx, job); err != nil {
			return wrap(ErrInternal, err)
		}
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			// Leave it paused so the operator can try again.
			job.State = domain.JobPaused
			if rerr := s.queue.SaveJob(context.WithoutCancel(ctx), job); rerr != nil {
				logger.Error("restore paused state", "job_id", job.ID, "error", rerr)
			}
			return wrap(ErrQueueDispatch, err)
		}
		if job.Kind == domain.JobKindCampaign {
			if err := s.campaigns.MarkResumed(ctx, accountID, job.CampaignID); err != nil {
				logger.Warn("mirror resume on campaign", "campaign_id", job.CampaignID, "error", err)
			}
		}
		out = StatusOf(job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("send job resumed", "job_id", jobID, "account_id", accountID)
	return out, nil
}
