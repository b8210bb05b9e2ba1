package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository in memory.
type CampaignRepo struct {
	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
}

// NewCampaignRepo creates an empty campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (r *CampaignRepo) find(accountID, id string) (*domain.Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok || c.AccountID != accountID {
		return nil, campaign.ErrNotFound
	}
	return c, nil
}

func (r *CampaignRepo) Get(_ context.Context, accountID, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.find(accountID, id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Status == "" {
		cp.Status = domain.CampaignDraft
	}
	r.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, accountID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.find(accountID, id)
	if err != nil {
		return err
	}
	for _, f := range from {
		if c.Status != f {
			continue
		}
		now := time.Now().UTC()
		c.Status = to
		c.UpdatedAt = now
		if to == domain.CampaignSending && c.StartedAt == nil {
			c.StartedAt = &now
		}
		return nil
	}
	return campaign.ErrInvalidTransition
}

func (r *CampaignRepo) SetLastJob(_ context.Context, accountID, id, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.find(accountID, id)
	if err != nil {
		return err
	}
	c.LastJobID = jobID
	return nil
}

func (r *CampaignRepo) Complete(_ context.Context, accountID, id string, sent, failed int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.find(accountID, id)
	if err != nil {
		return err
	}
	if !c.HasLiveJob() {
		return campaign.ErrInvalidTransition
	}
	c.Status = domain.CampaignSent
	c.SentCount = sent
	c.FailedCount = failed
	c.CompletedAt = &at
	c.UpdatedAt = at
	return nil
}

func (r *CampaignRepo) AddCounts(_ context.Context, accountID, id string, sent, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.find(accountID, id)
	if err != nil {
		return err
	}
	c.SentCount += sent
	c.FailedCount += failed
	if c.FailedCount < 0 {
		c.FailedCount = 0
	}
	return nil
}
