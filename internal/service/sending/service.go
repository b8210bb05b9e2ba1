package sending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/queue"
	"github.com/ignite/fanmail/internal/quota"
	"github.com/ignite/fanmail/internal/segmentation"
	"github.com/ignite/fanmail/internal/service/campaign"
	"github.com/ignite/fanmail/internal/service/segment"
)

// Config controls the enqueue path.
type Config struct {
	// QuotaKey is the quota subject, normally the provider name.
	QuotaKey              string
	DefaultBatchSize      int
	MaxBatchSize          int
	RequireVerifiedDomain bool
	LockTTL               time.Duration
	// LockWait bounds how long pause/resume wait for an in-flight batch.
	LockWait time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QuotaKey:         string(domain.ESPSES),
		DefaultBatchSize: 25,
		MaxBatchSize:     500,
		LockTTL:          30 * time.Second,
		LockWait:         15 * time.Second,
	}
}

// SendOptions are the optional knobs on a send request.
type SendOptions struct {
	SegmentID string `json:"segment_id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// EnqueueResult is returned when a send job was accepted.
type EnqueueResult struct {
	Queued        bool   `json:"queued"`
	TotalCount    int    `json:"totalCount"`
	JobID         string `json:"jobId"`
	EstimatedTime int    `json:"estimatedTime"`
}

// Service accepts campaign sends and controls their jobs.
type Service struct {
	campaigns Campaigns
	audience  Audience
	segments  Segments
	quota     *quota.Controller
	queue     queue.Store
	verifier  DomainVerifier
	locks     distlock.Factory
	cfg       Config
	now       func() time.Time
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Campaigns Campaigns
	Audience  Audience
	Segments  Segments
	Quota     *quota.Controller
	Queue     queue.Store
	Verifier  DomainVerifier
	Locks     distlock.Factory
}

// NewService creates a sending service. Zero config fields take defaults.
func NewService(d Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.QuotaKey == "" {
		cfg.QuotaKey = def.QuotaKey
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = def.DefaultBatchSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	if d.Locks == nil {
		d.Locks = distlock.NewLocalTable().Factory()
	}
	return &Service{
		campaigns: d.Campaigns,
		audience:  d.Audience,
		segments:  d.Segments,
		quota:     d.Quota,
		queue:     d.Queue,
		verifier:  d.Verifier,
		locks:     d.Locks,
		cfg:       cfg,
		now:       time.Now,
	}
}

func campaignLockKey(id string) string { return "campaign-send:" + id }

func (s *Service) batchSize(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.DefaultBatchSize
	case requested > s.cfg.MaxBatchSize:
		return s.cfg.MaxBatchSize
	}
	return requested
}

func (s *Service) loadCampaign(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	if accountID == "" {
		return nil, ErrUnauthorized
	}
	c, err := s.campaigns.Get(ctx, accountID, id)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}
	return c, nil
}

// checkContent runs the content and domain preconditions shared by first
// sends and retries.
func (s *Service) checkContent(ctx context.Context, c *domain.Campaign) error {
	if !c.HasContent() {
		return ErrMissingContent
	}
	if !s.cfg.RequireVerifiedDomain {
		return nil
	}
	if s.verifier == nil {
		return wrap(ErrInternal, errors.New("domain verification required but no verifier configured"))
	}
	ok, err := s.verifier.IsVerified(ctx, c.AccountID, domain.DomainOf(c.FromEmail))
	if err != nil {
		return wrap(ErrInternal, fmt.Errorf("verify sending domain: %w", err))
	}
	if !ok {
		return ErrUnverifiedDomain
	}
	return nil
}

// checkQuota rejects the whole send when today's remaining budget cannot
// cover every recipient. A quota store outage rejects too.
func (s *Service) checkQuota(ctx context.Context, n int) error {
	adm, err := s.quota.CanSend(ctx, s.cfg.QuotaKey, n)
	if err != nil {
		return wrap(ErrQuotaUnavailable, err)
	}
	if adm.RemainingToday < n {
		return insufficientQuota(adm.RemainingToday, n)
	}
	return nil
}

func (s *Service) resolveConditions(ctx context.Context, accountID, segmentID string) ([]segmentation.Condition, error) {
	if segmentID == "" {
		return nil, nil
	}
	conds, err := s.segments.Conditions(ctx, accountID, segmentID)
	if errors.Is(err, segment.ErrNotFound) {
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}
	return conds, nil
}

// withCampaignLock serialises enqueue attempts on one campaign.
func (s *Service) withCampaignLock(ctx context.Context, id string, fn func(context.Context) error) error {
	ran, err := distlock.WithLock(ctx, s.locks, campaignLockKey(id), s.cfg.LockTTL, fn)
	if err != nil && !ran {
		return wrap(ErrInternal, err)
	}
	if !ran {
		return ErrAlreadyQueued
	}
	return err
}

// EnqueueCampaignSend checks every precondition in order, snapshots the
// eligible audience into a new job and queues it. The campaign moves to
// scheduled only when the job was queued.
func (s *Service) EnqueueCampaignSend(ctx context.Context, accountID, campaignID string, opts SendOptions) (*EnqueueResult, error) {
	if _, err := s.loadCampaign(ctx, accountID, campaignID); err != nil {
		return nil, err
	}

	var res *EnqueueResult
	err := s.withCampaignLock(ctx, campaignID, func(ctx context.Context) error {
		c, err := s.loadCampaign(ctx, accountID, campaignID)
		if err != nil {
			return err
		}
		if c.Status == domain.CampaignSent {
			return ErrAlreadySent
		}
		if c.HasLiveJob() {
			return ErrAlreadyQueued
		}
		if err := s.checkContent(ctx, c); err != nil {
			return err
		}

		conds, err := s.resolveConditions(ctx, accountID, opts.SegmentID)
		if err != nil {
			return err
		}
		recipients, err := s.audience.Eligible(ctx, accountID, conds)
		if err != nil {
			return wrap(ErrInternal, err)
		}
		if len(recipients) == 0 {
			return ErrNoEligibleRecipients
		}
		if err := s.checkQuota(ctx, len(recipients)); err != nil {
			return err
		}

		job, err := s.dispatch(ctx, c, domain.JobKindCampaign, recipients, s.batchSize(opts.BatchSize),
			func(ctx context.Context, jobID string) error {
				return s.campaigns.MarkScheduled(ctx, accountID, campaignID, jobID)
			},
			func(ctx context.Context) error {
				return s.campaigns.RevertSchedule(ctx, accountID, campaignID, c.Status, c.LastJobID)
			})
		if err != nil {
			return err
		}
		res = s.result(job)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("campaign send queued",
		"account_id", accountID, "campaign_id", campaignID, "job_id", res.JobID,
		"recipients", res.TotalCount, "segment_id", opts.SegmentID)
	return res, nil
}

// RetryFailed queues a new job whose audience is exactly the recipients that
// failed in the campaign's latest finished job.
func (s *Service) RetryFailed(ctx context.Context, accountID, campaignID string) (*EnqueueResult, error) {
	if _, err := s.loadCampaign(ctx, accountID, campaignID); err != nil {
		return nil, err
	}

	var res *EnqueueResult
	err := s.withCampaignLock(ctx, campaignID, func(ctx context.Context) error {
		c, err := s.loadCampaign(ctx, accountID, campaignID)
		if err != nil {
			return err
		}
		if c.HasLiveJob() {
			return ErrAlreadyQueued
		}
		if c.LastJobID == "" {
			return ErrNoEligibleRecipients
		}
		last, err := s.queue.GetJob(ctx, c.LastJobID)
		if errors.Is(err, queue.ErrJobNotFound) {
			return ErrNoEligibleRecipients
		}
		if err != nil {
			return wrap(ErrInternal, err)
		}
		if !last.State.IsTerminal() {
			return ErrAlreadyQueued
		}
		if err := s.checkContent(ctx, c); err != nil {
			return err
		}

		failed, err := s.queue.LoadFailed(ctx, last.ID)
		if err != nil {
			return wrap(ErrInternal, err)
		}
		if len(failed) == 0 {
			return ErrNoEligibleRecipients
		}
		if err := s.checkQuota(ctx, len(failed)); err != nil {
			return err
		}

		job, err := s.dispatch(ctx, c, domain.JobKindRetry, failed, last.BatchSize,
			func(ctx context.Context, jobID string) error {
				return s.campaigns.AttachJob(ctx, accountID, campaignID, jobID)
			},
			func(ctx context.Context) error {
				return s.campaigns.AttachJob(ctx, accountID, campaignID, c.LastJobID)
			})
		if err != nil {
			return err
		}
		res = s.result(job)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("retry of failed recipients queued",
		"account_id", accountID, "campaign_id", campaignID, "job_id", res.JobID, "recipients", res.TotalCount)
	return res, nil
}

// dispatch persists a job and its recipient snapshot, claims the campaign
// with claim, and queues the job. Any failure after the job was written
// deletes it and calls revert when the claim had succeeded.
func (s *Service) dispatch(
	ctx context.Context,
	c *domain.Campaign,
	kind domain.JobKind,
	recipients []domain.Recipient,
	batchSize int,
	claim func(ctx context.Context, jobID string) error,
	revert func(ctx context.Context) error,
) (*domain.SendJob, error) {
	now := s.now().UTC()
	job := &domain.SendJob{
		ID:         queue.NewJobID(),
		AccountID:  c.AccountID,
		CampaignID: c.ID,
		Kind:       kind,
		State:      domain.JobCreated,
		BatchSize:  s.batchSize(batchSize),
		Total:      len(recipients),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	cleanup := func(cause error) {
		bg := context.WithoutCancel(ctx)
		if err := s.queue.DeleteJob(bg, job.ID); err != nil {
			logger.Error("discard unqueued job", "job_id", job.ID, "error", err)
		}
		logger.Error("send dispatch failed", "campaign_id", c.ID, "job_id", job.ID, "error", cause)
	}

	if err := s.queue.SaveRecipients(ctx, job.ID, recipients); err != nil {
		cleanup(err)
		return nil, wrap(ErrQueueDispatch, err)
	}
	job.State = domain.JobQueued
	if err := s.queue.SaveJob(ctx, job); err != nil {
		cleanup(err)
		return nil, wrap(ErrQueueDispatch, err)
	}

	if err := claim(ctx, job.ID); err != nil {
		cleanup(err)
		if errors.Is(err, campaign.ErrInvalidTransition) {
			return nil, ErrAlreadyQueued
		}
		return nil, wrap(ErrInternal, err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		cleanup(err)
		if rerr := revert(context.WithoutCancel(ctx)); rerr != nil {
			logger.Error("revert campaign after failed enqueue", "campaign_id", c.ID, "error", rerr)
		}
		return nil, wrap(ErrQueueDispatch, err)
	}
	return job, nil
}

func (s *Service) result(job *domain.SendJob) *EnqueueResult {
	est := s.quota.EstimateDuration(job.Total)
	return &EnqueueResult{
		Queued:        true,
		TotalCount:    job.Total,
		JobID:         job.ID,
		EstimatedTime: int(math.Ceil(est.Seconds())),
	}
}
