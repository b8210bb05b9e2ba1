package campaign_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/service/campaign"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign // keyed by id
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memRepo) lookup(accountID, id string) (*domain.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok || c.AccountID != accountID {
		return nil, campaign.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) Get(_ context.Context, accountID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(accountID, id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		return "", fmt.Errorf("id required")
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, accountID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(accountID, id)
	if err != nil {
		return err
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			if to == domain.CampaignSending && c.StartedAt == nil {
				now := time.Now()
				c.StartedAt = &now
			}
			return nil
		}
	}
	return campaign.ErrInvalidTransition
}

func (m *memRepo) SetLastJob(_ context.Context, accountID, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(accountID, id)
	if err != nil {
		return err
	}
	c.LastJobID = jobID
	return nil
}

func (m *memRepo) Complete(_ context.Context, accountID, id string, sent, failed int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(accountID, id)
	if err != nil {
		return err
	}
	if !c.HasLiveJob() {
		return campaign.ErrInvalidTransition
	}
	c.Status = domain.CampaignSent
	c.SentCount, c.FailedCount = sent, failed
	c.CompletedAt = &at
	return nil
}

func (m *memRepo) AddCounts(_ context.Context, accountID, id string, sent, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(accountID, id)
	if err != nil {
		return err
	}
	c.SentCount += sent
	c.FailedCount += failed
	return nil
}

const testAccount = "acct-1"

func createCampaign(t *testing.T, svc *campaign.Service) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), testAccount, campaign.CreateInput{
		Name: "Tour", Subject: "New dates", Content: "<p>hi</p>", FromName: "Band", FromEmail: "news@band.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)
	if c.Status != domain.CampaignDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if c.AccountID != testAccount {
		t.Fatalf("expected account %s, got %s", testAccount, c.AccountID)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	if _, err := svc.Create(context.Background(), testAccount, campaign.CreateInput{}); err == nil {
		t.Fatal("expected validation error for missing name")
	}
	if _, err := svc.Create(context.Background(), testAccount, campaign.CreateInput{Name: "x", FromEmail: "nope"}); err == nil {
		t.Fatal("expected validation error for bad from_email")
	}
}

func TestGetForeignAccountIsNotFound(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)

	_, err := svc.Get(context.Background(), "acct-2", c.ID)
	if err != campaign.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)

	if err := svc.MarkScheduled(ctx, testAccount, c.ID, "job-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := svc.MarkScheduled(ctx, testAccount, c.ID, "job-2"); err != campaign.ErrInvalidTransition {
		t.Fatalf("expected second schedule to be rejected, got %v", err)
	}
	if err := svc.MarkSending(ctx, testAccount, c.ID); err != nil {
		t.Fatalf("sending: %v", err)
	}
	if err := svc.MarkSending(ctx, testAccount, c.ID); err != nil {
		t.Fatalf("sending should be idempotent: %v", err)
	}
	if err := svc.MarkPaused(ctx, testAccount, c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := svc.MarkResumed(ctx, testAccount, c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := svc.MarkSent(ctx, testAccount, c.ID, 7, 3); err != nil {
		t.Fatalf("sent: %v", err)
	}

	got, _ := svc.Get(ctx, testAccount, c.ID)
	if got.Status != domain.CampaignSent || got.SentCount != 7 || got.FailedCount != 3 {
		t.Fatalf("unexpected final campaign: %+v", got)
	}
	if got.LastJobID != "job-1" || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("missing job or timestamps: %+v", got)
	}

	if err := svc.MarkScheduled(ctx, testAccount, c.ID, "job-3"); err != campaign.ErrInvalidTransition {
		t.Fatalf("sent campaign must not be rescheduled, got %v", err)
	}
	if err := svc.MarkSent(ctx, testAccount, c.ID, 1, 0); err != campaign.ErrInvalidTransition {
		t.Fatalf("campaign must be sent only once, got %v", err)
	}
	got, _ = svc.Get(ctx, testAccount, c.ID)
	if got.SentCount != 7 {
		t.Fatalf("second completion overwrote counts: %+v", got)
	}
}

func TestMarkSentRequiresLiveJob(t *testing.T) {
	ctx := context.Background()
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)

	if err := svc.MarkSent(ctx, testAccount, c.ID, 5, 0); err != campaign.ErrInvalidTransition {
		t.Fatalf("draft campaign must not complete, got %v", err)
	}
	if err := svc.MarkSent(ctx, testAccount, "missing", 5, 0); err != campaign.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailedCampaignCanBeRescheduled(t *testing.T) {
	ctx := context.Background()
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)

	svc.MarkScheduled(ctx, testAccount, c.ID, "job-1")
	if err := svc.MarkFailed(ctx, testAccount, c.ID); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := svc.MarkScheduled(ctx, testAccount, c.ID, "job-2"); err != nil {
		t.Fatalf("reschedule after failure: %v", err)
	}
}

func TestApplyRetryOutcome(t *testing.T) {
	ctx := context.Background()
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)
	svc.MarkScheduled(ctx, testAccount, c.ID, "job-1")
	svc.MarkSent(ctx, testAccount, c.ID, 7, 3)

	if err := svc.ApplyRetryOutcome(ctx, testAccount, c.ID, 2); err != nil {
		t.Fatalf("retry outcome: %v", err)
	}
	got, _ := svc.Get(ctx, testAccount, c.ID)
	if got.SentCount != 9 || got.FailedCount != 1 {
		t.Fatalf("expected 9/1, got %d/%d", got.SentCount, got.FailedCount)
	}
	if got.Status != domain.CampaignSent {
		t.Fatalf("retry must not change status, got %s", got.Status)
	}
}

func TestRevertSchedule(t *testing.T) {
	ctx := context.Background()
	svc := campaign.NewService(newMemRepo())
	c := createCampaign(t, svc)

	if err := svc.MarkScheduled(ctx, testAccount, c.ID, "job-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := svc.RevertSchedule(ctx, testAccount, c.ID, domain.CampaignDraft, ""); err != nil {
		t.Fatalf("revert: %v", err)
	}
	got, _ := svc.Get(ctx, testAccount, c.ID)
	if got.Status != domain.CampaignDraft || got.LastJobID != "" {
		t.Fatalf("expected draft with no job, got %s %q", got.Status, got.LastJobID)
	}
}
