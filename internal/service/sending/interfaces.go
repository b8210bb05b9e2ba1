package sending

import (
	"context"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/segmentation"
)

// DomainVerifier reports whether an account may send from a domain.
type DomainVerifier interface {
	IsVerified(ctx context.Context, accountID, domain string) (bool, error)
}

// Campaigns is the campaign lifecycle the scheduler drives.
type Campaigns interface {
	Get(ctx context.Context, accountID, id string) (*domain.Campaign, error)
	MarkScheduled(ctx context.Context, accountID, id, jobID string) error
	RevertSchedule(ctx context.Context, accountID, id string, prior domain.CampaignStatus, priorJobID string) error
	AttachJob(ctx context.Context, accountID, id, jobID string) error
	MarkPaused(ctx context.Context, accountID, id string) error
	MarkResumed(ctx context.Context, accountID, id string) error
}

// Audience resolves subscribed recipients, optionally filtered.
type Audience interface {
	Eligible(ctx context.Context, accountID string, conds []segmentation.Condition) ([]domain.Recipient, error)
}

// Segments loads saved segment conditions.
type Segments interface {
	Conditions(ctx context.Context, accountID, id string) ([]segmentation.Condition, error)
}
