// Package fan resolves the recipients of a send: the subscribed fans of an
// account, optionally narrowed by segment conditions.
package fan

import (
	"context"
	"fmt"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/segmentation"
)

// Repository defines the data access contract for fans.
type Repository interface {
	// ListSubscribed returns up to limit subscribed fans of accountID with
	// id > afterID, ordered by id. An empty page means the end.
	ListSubscribed(ctx context.Context, accountID, afterID string, limit int) ([]domain.Fan, error)
}

const defaultPageSize = 1000

// Service walks an account's subscribed fans page by page.
type Service struct {
	repo     Repository
	pageSize int
}

// NewService creates a fan service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, pageSize: defaultPageSize}
}

// SetPageSize overrides the repository page size.
func (s *Service) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

func (s *Service) each(ctx context.Context, accountID string, conds []segmentation.Condition, fn func(*domain.Fan)) error {
	after := ""
	for {
		page, err := s.repo.ListSubscribed(ctx, accountID, after, s.pageSize)
		if err != nil {
			return fmt.Errorf("list subscribed fans: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		for i := range page {
			f := &page[i]
			if !f.Eligible() {
				continue
			}
			if segmentation.Evaluate(f, conds) {
				fn(f)
			}
		}
		after = page[len(page)-1].ID
		if len(page) < s.pageSize {
			return nil
		}
	}
}

// Eligible returns a snapshot of every subscribed fan matching conds.
// Nil conds selects all subscribed fans.
func (s *Service) Eligible(ctx context.Context, accountID string, conds []segmentation.Condition) ([]domain.Recipient, error) {
	var out []domain.Recipient
	err := s.each(ctx, accountID, conds, func(f *domain.Fan) {
		out = append(out, domain.RecipientFromFan(f))
	})
	return out, err
}

// Count returns how many subscribed fans match conds.
func (s *Service) Count(ctx context.Context, accountID string, conds []segmentation.Condition) (int, error) {
	n := 0
	err := s.each(ctx, accountID, conds, func(*domain.Fan) { n++ })
	return n, err
}
