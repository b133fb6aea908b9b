package memoryrepo

import (
	"context"
	"fmt"
	"sync"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
)

// Roster is an in-process staff registry.
type Roster struct {
	mu    sync.RWMutex
	staff map[uuid.UUID]domain.Staff
}

var _ repository.Roster = (*Roster)(nil)

func NewRoster(staff ...domain.Staff) *Roster {
	r := &Roster{staff: make(map[uuid.UUID]domain.Staff, len(staff))}
	r.Put(staff...)
	return r
}

// Put inserts or replaces staff records. The engine never calls it; it stands
// in for the roster's own administration.
func (r *Roster) Put(staff ...domain.Staff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range staff {
		r.staff[s.ID] = s
	}
}

func (r *Roster) StaffByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Staff, error) {
	const op = "memoryrepo.Roster.StaffByIDs"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]domain.Staff, len(ids))
	for _, id := range ids {
		if s, ok := r.staff[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}
