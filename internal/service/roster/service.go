// Package roster is the engine's read-only view of the staff roster.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	redisrepo "github.com/cleanhome/bookingd/internal/repository/redis"
	"github.com/google/uuid"
)

const DefaultCacheTTL = 30 * time.Second

// entry records misses too, so unknown ids are not re-queried on every call.
type entry struct {
	Found bool         `json:"found"`
	Staff domain.Staff `json:"staff"`
}

type Service struct {
	source repository.Roster
	cache  *redisrepo.Cache
	ttl    time.Duration
	log    *slog.Logger
}

// New wraps source. cache may be nil.
func New(source repository.Roster, cache *redisrepo.Cache, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{source: source, cache: cache, ttl: ttl, log: log}
}

// Lookup returns the staff records found for ids. Unknown ids are absent
// from the result.
func (s *Service) Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Staff, error) {
	const op = "service.roster.Lookup"

	if s.cache == nil {
		out, err := s.source.StaffByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return out, nil
	}

	out := make(map[uuid.UUID]domain.Staff, len(ids))
	for _, id := range ids {
		e, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyStaff(id), s.ttl, func(ctx context.Context) (entry, error) {
			found, err := s.source.StaffByIDs(ctx, []uuid.UUID{id})
			if err != nil {
				return entry{}, err
			}
			st, ok := found[id]
			return entry{Found: ok, Staff: st}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if e.Found {
			out[id] = e.Staff
		}
	}
	return out, nil
}

func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	found, err := s.Lookup(ctx, []uuid.UUID{id})
	if err != nil {
		return false, err
	}
	_, ok := found[id]
	return ok, nil
}

// IsAssignable reports whether id exists and is active.
func (s *Service) IsAssignable(ctx context.Context, id uuid.UUID) (bool, error) {
	found, err := s.Lookup(ctx, []uuid.UUID{id})
	if err != nil {
		return false, err
	}
	st, ok := found[id]
	return ok && st.Assignable(), nil
}

// Check validates a requested staff set against the roster.
//
// Returns:
//   - domain.ErrUnknownStaff if any id is not on the roster.
//   - domain.ErrStaffUnavailable if any listed staff member is not active.
func (s *Service) Check(ctx context.Context, ids []uuid.UUID) error {
	found, err := s.Lookup(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("staff %s: %w", id, domain.ErrUnknownStaff)
		}
	}
	for _, id := range ids {
		if st := found[id]; !st.Assignable() {
			s.log.Debug("staff not assignable",
				slog.String("staff_id", id.String()),
				slog.String("status", string(st.Status)),
			)
			return fmt.Errorf("staff %s: %w", id, domain.ErrStaffUnavailable)
		}
	}
	return nil
}
