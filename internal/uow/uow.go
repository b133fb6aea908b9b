package uow

import (
	"context"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
)

// AfterCommit is a function that runs after a successful commit.
type AfterCommit func(ctx context.Context)

// CommitHook observes every committed event. Hooks run outside the booking
// lock.
type CommitHook func(ctx context.Context, ev domain.Event)

// UoW represents a unit of work over one booking.
type UoW struct {
	store repository.Store
	hooks []CommitHook
}

func NewUoW(store repository.Store, hooks ...CommitHook) *UoW {
	return &UoW{store: store, hooks: hooks}
}

// OnCommit registers a hook for every later commit.
func (u *UoW) OnCommit(h CommitHook) {
	u.hooks = append(u.hooks, h)
}

// Create inserts a new booking with its creation event, then runs the commit
// hooks.
func (u *UoW) Create(ctx context.Context, b *domain.Booking, ev domain.Event) error {
	if err := u.store.CreateBooking(ctx, b, ev); err != nil {
		return err
	}

	u.committed(ctx, ev)

	return nil
}

// Do runs fn with exclusive access to the booking. After a commit that
// persisted changes it executes the after-commit hooks fn registered, then
// the global commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	bookingID uuid.UUID,
	fn func(m *repository.Mutation, after func(AfterCommit)) error,
) (*domain.Booking, error) {
	var (
		hooks []AfterCommit
		last  *repository.Mutation
	)

	b, err := u.store.Update(ctx, bookingID, func(m *repository.Mutation) error {
		// The store may retry fn; only the last run counts.
		hooks = hooks[:0]
		last = m
		return fn(m, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return nil, err
	}

	if last == nil || !last.Dirty() {
		return b, nil
	}

	for _, h := range hooks {
		h(ctx)
	}
	u.committed(ctx, *last.Event())

	return b, nil
}

func (u *UoW) committed(ctx context.Context, ev domain.Event) {
	for _, h := range u.hooks {
		h(ctx, ev)
	}
}
