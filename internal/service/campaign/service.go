package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/logger"
)

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, accountID, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
}

// Create validates and persists a new campaign in draft status. Subject and
// content may be empty on a draft; the send path checks them.
func (s *Service) Create(ctx context.Context, accountID string, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if domain.DomainOf(input.FromEmail) == "" {
		return nil, fmt.Errorf("from_email is invalid")
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Name:      input.Name,
		Subject:   input.Subject,
		Content:   input.Content,
		FromName:  input.FromName,
		FromEmail: input.FromEmail,
		Status:    domain.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

var (
	schedulableFrom = []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignFailed}
	sendingFrom     = []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignPaused, domain.CampaignSending}
	pausableFrom    = []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending}
	failableFrom    = []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending, domain.CampaignPaused}
)

// MarkScheduled claims the campaign for jobID. It fails with
// ErrInvalidTransition when another job already owns it or it was sent.
func (s *Service) MarkScheduled(ctx context.Context, accountID, id, jobID string) error {
	if err := s.repo.UpdateStatus(ctx, accountID, id, schedulableFrom, domain.CampaignScheduled); err != nil {
		return err
	}
	if err := s.repo.SetLastJob(ctx, accountID, id, jobID); err != nil {
		return fmt.Errorf("attach job %s: %w", jobID, err)
	}
	return nil
}

// RevertSchedule undoes MarkScheduled when the job could not be queued,
// restoring the prior status and last job.
func (s *Service) RevertSchedule(ctx context.Context, accountID, id string, prior domain.CampaignStatus, priorJobID string) error {
	if err := s.repo.UpdateStatus(ctx, accountID, id,
		[]domain.CampaignStatus{domain.CampaignScheduled}, prior); err != nil {
		return err
	}
	return s.repo.SetLastJob(ctx, accountID, id, priorJobID)
}

// AttachJob records jobID as the campaign's latest job without a status change.
func (s *Service) AttachJob(ctx context.Context, accountID, id, jobID string) error {
	return s.repo.SetLastJob(ctx, accountID, id, jobID)
}

// MarkSending is idempotent while a job is live.
func (s *Service) MarkSending(ctx context.Context, accountID, id string) error {
	return s.repo.UpdateStatus(ctx, accountID, id, sendingFrom, domain.CampaignSending)
}

// MarkPaused mirrors an operator pause on the campaign.
func (s *Service) MarkPaused(ctx context.Context, accountID, id string) error {
	return s.repo.UpdateStatus(ctx, accountID, id, pausableFrom, domain.CampaignPaused)
}

// MarkResumed returns a paused campaign to scheduled; the next worker tick
// moves it to sending.
func (s *Service) MarkResumed(ctx context.Context, accountID, id string) error {
	return s.repo.UpdateStatus(ctx, accountID, id,
		[]domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignScheduled)
}

// MarkSent finalises the campaign. Partial failures still count as sent.
func (s *Service) MarkSent(ctx context.Context, accountID, id string, sent, failed int) error {
	if err := s.repo.Complete(ctx, accountID, id, sent, failed, s.now().UTC()); err != nil {
		return err
	}
	logger.Info("campaign sent", "campaign_id", id, "sent", sent, "failed", failed)
	return nil
}

// MarkFailed records that the job driving the campaign failed.
func (s *Service) MarkFailed(ctx context.Context, accountID, id string) error {
	return s.repo.UpdateStatus(ctx, accountID, id, failableFrom, domain.CampaignFailed)
}

// ApplyRetryOutcome moves recovered recipients from failed to sent.
func (s *Service) ApplyRetryOutcome(ctx context.Context, accountID, id string, recovered int) error {
	if recovered <= 0 {
		return nil
	}
	return s.repo.AddCounts(ctx, accountID, id, recovered, -recovered)
}
