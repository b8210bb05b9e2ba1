package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/service/segment"
)

// SegmentRepo implements segment.Repository against PostgreSQL.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func (r *SegmentRepo) Create(ctx context.Context, s *domain.Segment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segments
			(id, account_id, name, description, conditions, fan_count, calculated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.AccountID, s.Name, s.Description, []byte(s.Conditions), s.FanCount, s.CalculatedAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) Get(ctx context.Context, accountID, id string) (*domain.Segment, error) {
	s := &domain.Segment{}
	var conds []byte
	var calculated sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, COALESCE(description,''), conditions,
		       fan_count, calculated_at, created_at
		FROM segments
		WHERE id = $1 AND account_id = $2
	`, id, accountID).Scan(
		&s.ID, &s.AccountID, &s.Name, &s.Description, &conds,
		&s.FanCount, &calculated, &s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, segment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	s.Conditions = conds
	if calculated.Valid {
		s.CalculatedAt = &calculated.Time
	}
	return s, nil
}

func (r *SegmentRepo) UpdateFanCount(ctx context.Context, accountID, id string, count int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE segments SET fan_count = $1, calculated_at = $2
		WHERE id = $3 AND account_id = $4
	`, count, at, id, accountID)
	if err != nil {
		return fmt.Errorf("update segment count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return segment.ErrNotFound
	}
	return nil
}
