package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SendingDomainRepo answers domain verification from the sending_domains
// table. Verification itself happens out of band.
type SendingDomainRepo struct{ db *sql.DB }

// NewSendingDomainRepo creates a Postgres-backed domain verifier.
func NewSendingDomainRepo(db *sql.DB) *SendingDomainRepo { return &SendingDomainRepo{db: db} }

func (r *SendingDomainRepo) IsVerified(ctx context.Context, accountID, domainName string) (bool, error) {
	if domainName == "" {
		return false, nil
	}
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sending_domains
			WHERE account_id = $1 AND domain = $2 AND verified = true
		)
	`, accountID, strings.ToLower(domainName)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check sending domain: %w", err)
	}
	return ok, nil
}
