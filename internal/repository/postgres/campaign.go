package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/service/campaign"
	"github.com/lib/pq"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, accountID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var lastJob sql.NullString
	var started, completed sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, COALESCE(subject,''), COALESCE(content,''),
		       COALESCE(from_name,''), from_email, status, sent_count, failed_count,
		       last_job_id, started_at, completed_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND account_id = $2
	`, id, accountID).Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Subject, &c.Content,
		&c.FromName, &c.FromEmail, &c.Status, &c.SentCount, &c.FailedCount,
		&lastJob, &started, &completed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.LastJobID = lastJob.String
	if started.Valid {
		c.StartedAt = &started.Time
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}
	return c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, account_id, name, subject, content, from_name, from_email,
			 status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, c.ID, c.AccountID, c.Name, c.Subject, c.Content, c.FromName, c.FromEmail, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func statusStrings(in []domain.CampaignStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// UpdateStatus is a compare-and-set on status. Zero rows means either the
// campaign is missing or its status is not in from; a second lookup tells
// the two apart.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, accountID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1::text,
		    started_at = CASE WHEN $1::text = 'sending' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		    updated_at = NOW()
		WHERE id = $2 AND account_id = $3 AND status = ANY($4)
	`, string(to), id, accountID, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return r.missingOr(ctx, accountID, id, campaign.ErrInvalidTransition)
}

func (r *CampaignRepo) missingOr(ctx context.Context, accountID, id string, otherwise error) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND account_id = $2)`,
		id, accountID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return otherwise
}

func (r *CampaignRepo) exec(ctx context.Context, what, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) SetLastJob(ctx context.Context, accountID, id, jobID string) error {
	return r.exec(ctx, "set last job", `
		UPDATE campaigns SET last_job_id = NULLIF($1, ''), updated_at = NOW()
		WHERE id = $2 AND account_id = $3
	`, jobID, id, accountID)
}

func (r *CampaignRepo) Complete(ctx context.Context, accountID, id string, sent, failed int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sent', sent_count = $1, failed_count = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4 AND account_id = $5 AND status IN ('scheduled', 'sending', 'paused')
	`, sent, failed, at, id, accountID)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return r.missingOr(ctx, accountID, id, campaign.ErrInvalidTransition)
}

func (r *CampaignRepo) AddCounts(ctx context.Context, accountID, id string, sent, failed int) error {
	return r.exec(ctx, "add campaign counts", `
		UPDATE campaigns
		SET sent_count = sent_count + $1, failed_count = GREATEST(failed_count + $2, 0), updated_at = NOW()
		WHERE id = $3 AND account_id = $4
	`, sent, failed, id, accountID)
}
