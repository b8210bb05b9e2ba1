package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/fanmail/internal/domain"
)

// FanRepo implements fan.Repository in memory.
type FanRepo struct {
	mu   sync.RWMutex
	fans map[string]domain.Fan
}

// NewFanRepo creates an empty fan repository.
func NewFanRepo() *FanRepo {
	return &FanRepo{fans: make(map[string]domain.Fan)}
}

// Put inserts or replaces a fan.
func (r *FanRepo) Put(f domain.Fan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fans[f.ID] = f
}

// SetStatus changes a fan's subscription status.
func (r *FanRepo) SetStatus(id string, status domain.FanStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fans[id]; ok {
		f.Status = status
		r.fans[id] = f
	}
}

func (r *FanRepo) ListSubscribed(_ context.Context, accountID, afterID string, limit int) ([]domain.Fan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Fan
	for _, f := range r.fans {
		if f.AccountID == accountID && f.Status == domain.FanSubscribed && f.ID > afterID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
