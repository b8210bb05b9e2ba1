package campaign

import (
	"context"
	"time"

	"github.com/ignite/fanmail/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign owned by accountID. Returns ErrNotFound
	// when it doesn't exist or belongs to another account.
	Get(ctx context.Context, accountID, id string) (*domain.Campaign, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// UpdateStatus moves the campaign to `to` only if its current status is
	// one of `from`. Returns ErrInvalidTransition otherwise. Moving to
	// sending stamps started_at the first time.
	UpdateStatus(ctx context.Context, accountID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// SetLastJob records the most recent send job for the campaign.
	SetLastJob(ctx context.Context, accountID, id, jobID string) error

	// Complete marks the campaign sent with final counts. Only a campaign
	// with a live job (scheduled, sending or paused) can complete; anything
	// else returns ErrInvalidTransition.
	Complete(ctx context.Context, accountID, id string, sent, failed int, at time.Time) error

	// AddCounts adjusts sent_count and failed_count by the given deltas.
	AddCounts(ctx context.Context, accountID, id string, sent, failed int) error
}
