// Package segment stores named audience filters and computes their size.
package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/segmentation"
)

var (
	ErrNotFound = errors.New("segment not found")
	ErrInvalid  = errors.New("invalid segment")
)

// Repository defines the data access contract for segments.
type Repository interface {
	Create(ctx context.Context, s *domain.Segment) error
	Get(ctx context.Context, accountID, id string) (*domain.Segment, error)
	UpdateFanCount(ctx context.Context, accountID, id string, count int, at time.Time) error
}

// Counter counts subscribed fans matching a condition list.
type Counter interface {
	Count(ctx context.Context, accountID string, conds []segmentation.Condition) (int, error)
}

// CreateInput is the body of POST /segments.
type CreateInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Conditions  json.RawMessage `json:"conditions"`
}

// Service validates, persists and sizes segments.
type Service struct {
	repo    Repository
	counter Counter
	now     func() time.Time
}

// NewService creates a segment service.
func NewService(repo Repository, counter Counter) *Service {
	return &Service{repo: repo, counter: counter, now: time.Now}
}

// Create validates the input, computes fan_count and persists the segment.
// Validation failures wrap ErrInvalid; a condition problem also carries a
// *segmentation.ValidationError.
func (s *Service) Create(ctx context.Context, accountID string, in CreateInput) (*domain.Segment, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	conds, err := segmentation.Parse(in.Conditions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := segmentation.Validate(conds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	count, err := s.counter.Count(ctx, accountID, conds)
	if err != nil {
		return nil, fmt.Errorf("count fans: %w", err)
	}

	normalized, err := json.Marshal(conds)
	if err != nil {
		return nil, fmt.Errorf("encode conditions: %w", err)
	}
	now := s.now().UTC()
	seg := &domain.Segment{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Conditions:   normalized,
		FanCount:     count,
		CalculatedAt: &now,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Conditions loads and decodes a stored segment's conditions.
func (s *Service) Conditions(ctx context.Context, accountID, id string) ([]segmentation.Condition, error) {
	seg, err := s.repo.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return segmentation.Parse(seg.Conditions)
}

// Recalculate refreshes the cached fan_count.
func (s *Service) Recalculate(ctx context.Context, accountID, id string) (*domain.Segment, error) {
	seg, err := s.repo.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	conds, err := segmentation.Parse(seg.Conditions)
	if err != nil {
		return nil, err
	}
	count, err := s.counter.Count(ctx, accountID, conds)
	if err != nil {
		return nil, fmt.Errorf("count fans: %w", err)
	}
	now := s.now().UTC()
	if err := s.repo.UpdateFanCount(ctx, accountID, id, count, now); err != nil {
		return nil, err
	}
	seg.FanCount = count
	seg.CalculatedAt = &now
	return seg, nil
}
