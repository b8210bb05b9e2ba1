package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/lib/pq"
)

// FanRepo implements fan.Repository against PostgreSQL.
type FanRepo struct{ db *sql.DB }

// NewFanRepo creates a Postgres-backed fan repository.
func NewFanRepo(db *sql.DB) *FanRepo { return &FanRepo{db: db} }

// ListSubscribed pages through subscribed fans by id (keyset pagination).
func (r *FanRepo) ListSubscribed(ctx context.Context, accountID, afterID string, limit int) ([]domain.Fan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, email, COALESCE(first_name,''), COALESCE(last_name,''),
		       status, tags, custom_fields, created_at
		FROM fans
		WHERE account_id = $1 AND status = 'subscribed' AND id > $2
		ORDER BY id
		LIMIT $3
	`, accountID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscribed fans: %w", err)
	}
	defer rows.Close()

	var out []domain.Fan
	for rows.Next() {
		var f domain.Fan
		var custom []byte
		if err := rows.Scan(
			&f.ID, &f.AccountID, &f.Email, &f.FirstName, &f.LastName,
			&f.Status, pq.Array(&f.Tags), &custom, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fan: %w", err)
		}
		if len(custom) > 0 {
			if err := json.Unmarshal(custom, &f.CustomFields); err != nil {
				return nil, fmt.Errorf("decode custom_fields for fan %s: %w", f.ID, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
