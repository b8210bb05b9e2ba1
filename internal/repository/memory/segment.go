package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/service/segment"
)

// SegmentRepo implements segment.Repository in memory.
type SegmentRepo struct {
	mu       sync.RWMutex
	segments map[string]domain.Segment
}

// NewSegmentRepo creates an empty segment repository.
func NewSegmentRepo() *SegmentRepo {
	return &SegmentRepo{segments: make(map[string]domain.Segment)}
}

func (r *SegmentRepo) Create(_ context.Context, s *domain.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[s.ID] = *s
	return nil
}

func (r *SegmentRepo) Get(_ context.Context, accountID, id string) (*domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[id]
	if !ok || s.AccountID != accountID {
		return nil, segment.ErrNotFound
	}
	return &s, nil
}

func (r *SegmentRepo) UpdateFanCount(_ context.Context, accountID, id string, count int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.segments[id]
	if !ok || s.AccountID != accountID {
		return segment.ErrNotFound
	}
	s.FanCount = count
	s.CalculatedAt = &at
	r.segments[id] = s
	return nil
}
