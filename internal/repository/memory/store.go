// Package memoryrepo is the in-process Store used for local runs and engine
// tests. Mutations serialize on a per-booking mutex; committed versions are
// published under one short publication lock so listings copy a consistent
// snapshot.
package memoryrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
)

type outboxEntry struct {
	event       domain.Event
	publishedAt *time.Time
}

type Store struct {
	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	pubMu     sync.RWMutex
	bookings  map[uuid.UUID]*domain.Booking
	codes     map[string]uuid.UUID
	attempts  map[uuid.UUID][]domain.PaymentAttempt
	attemptBy map[uuid.UUID]uuid.UUID
	outbox    []outboxEntry
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		locks:     make(map[uuid.UUID]*sync.Mutex),
		bookings:  make(map[uuid.UUID]*domain.Booking),
		codes:     make(map[string]uuid.UUID),
		attempts:  make(map[uuid.UUID][]domain.PaymentAttempt),
		attemptBy: make(map[uuid.UUID]uuid.UUID),
	}
}

// lockFor returns the booking's mutex. Entries are never pruned, so the map
// grows with the number of bookings seen.
func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) CreateBooking(ctx context.Context, b *domain.Booking, ev domain.Event) error {
	const op = "memoryrepo.Store.CreateBooking"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if _, ok := s.bookings[b.ID]; ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}
	if _, ok := s.codes[b.BookingCode]; ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	s.bookings[b.ID] = b.Clone()
	s.codes[b.BookingCode] = b.ID
	s.outbox = append(s.outbox, outboxEntry{event: ev})

	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "memoryrepo.Store.GetBooking"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.pubMu.RLock()
	defer s.pubMu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *Store) ListAttempts(ctx context.Context, bookingID uuid.UUID) ([]domain.PaymentAttempt, error) {
	const op = "memoryrepo.Store.ListAttempts"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.pubMu.RLock()
	defer s.pubMu.RUnlock()

	if _, ok := s.bookings[bookingID]; !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return cloneAttempts(s.attempts[bookingID]), nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*domain.PaymentAttempt, error) {
	const op = "memoryrepo.Store.GetAttempt"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.pubMu.RLock()
	defer s.pubMu.RUnlock()

	bookingID, ok := s.attemptBy[attemptID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	a := domain.FindAttempt(s.attempts[bookingID], attemptID)
	if a == nil {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	cp := cloneAttempts([]domain.PaymentAttempt{*a})[0]
	return &cp, nil
}

func (s *Store) ListBookings(ctx context.Context, q domain.ListQuery) ([]domain.Booking, int, error) {
	const op = "memoryrepo.Store.ListBookings"

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	s.pubMu.RLock()
	matched := make([]*domain.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		if q.Filter.Matches(b) {
			matched = append(matched, b.Clone())
		}
	}
	s.pubMu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return domain.Before(matched[i], matched[j])
	})

	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []domain.Booking{}, total, nil
	}
	end := min(start+q.PageSize, total)

	out := make([]domain.Booking, 0, end-start)
	for _, b := range matched[start:end] {
		out = append(out, *b)
	}
	return out, total, nil
}

func (s *Store) Update(
	ctx context.Context,
	id uuid.UUID,
	fn func(m *repository.Mutation) error,
) (*domain.Booking, error) {
	const op = "memoryrepo.Store.Update"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.pubMu.RLock()
	current, ok := s.bookings[id]
	var attempts []domain.PaymentAttempt
	if ok {
		current = current.Clone()
		attempts = cloneAttempts(s.attempts[id])
	}
	s.pubMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	m := repository.NewMutation(current, attempts)
	if err := fn(m); err != nil {
		return nil, err
	}
	if !m.Dirty() {
		return current, nil
	}

	next := m.Booking.Clone()

	s.pubMu.Lock()
	s.bookings[id] = next
	s.attempts[id] = cloneAttempts(m.Attempts)
	for _, a := range m.Added() {
		s.attemptBy[a.ID] = id
	}
	s.outbox = append(s.outbox, outboxEntry{event: *m.Event()})
	s.pubMu.Unlock()

	return next.Clone(), nil
}

func (s *Store) Outbox() repository.Outbox { return (*outbox)(s) }

type outbox Store

func (o *outbox) Pending(ctx context.Context, limit int) ([]domain.Event, error) {
	const op = "memoryrepo.Outbox.Pending"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	o.pubMu.RLock()
	defer o.pubMu.RUnlock()

	var out []domain.Event
	for _, e := range o.outbox {
		if len(out) >= limit {
			break
		}
		if e.publishedAt == nil {
			out = append(out, e.event)
		}
	}
	return out, nil
}

func (o *outbox) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	const op = "memoryrepo.Outbox.MarkPublished"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	for i := range o.outbox {
		if _, ok := set[o.outbox[i].event.ID]; ok && o.outbox[i].publishedAt == nil {
			t := at
			o.outbox[i].publishedAt = &t
		}
	}
	return nil
}

func cloneAttempts(in []domain.PaymentAttempt) []domain.PaymentAttempt {
	out := make([]domain.PaymentAttempt, len(in))
	for i, a := range in {
		if a.ResolvedAt != nil {
			t := *a.ResolvedAt
			a.ResolvedAt = &t
		}
		out[i] = a
	}
	return out
}
