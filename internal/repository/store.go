package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
)

// Store is the durable record of bookings and their payment attempts. It is
// the sole writer of both.
type Store interface {
	// CreateBooking inserts b together with its creation event. A duplicate
	// booking code yields ErrConflict.
	CreateBooking(ctx context.Context, b *domain.Booking, ev domain.Event) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	// ListAttempts returns the attempts of a booking, oldest first, with any
	// recorded outcome applied.
	ListAttempts(ctx context.Context, bookingID uuid.UUID) ([]domain.PaymentAttempt, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*domain.PaymentAttempt, error)
	// ListBookings returns one page and the total match count, both read from
	// the same snapshot.
	ListBookings(ctx context.Context, q domain.ListQuery) ([]domain.Booking, int, error)
	// Update runs fn with exclusive access to the booking. Changes are
	// persisted atomically, and only when fn emitted an event. It returns the
	// booking as committed.
	Update(ctx context.Context, id uuid.UUID, fn func(m *Mutation) error) (*domain.Booking, error)
	Outbox() Outbox
}

// Roster is the read-only view of staff records.
type Roster interface {
	StaffByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Staff, error)
}

// Outbox holds emitted events until a relay has published them.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Mutation is the working set handed to Store.Update callbacks.
type Mutation struct {
	// Booking is a private copy; edits are written back on commit.
	Booking *domain.Booking
	// Attempts is the attempt history including attempts added by this
	// mutation.
	Attempts []domain.PaymentAttempt

	added    []domain.PaymentAttempt
	outcomes []domain.AttemptOutcome
	event    *domain.Event
}

func NewMutation(b *domain.Booking, attempts []domain.PaymentAttempt) *Mutation {
	return &Mutation{
		Booking:  b.Clone(),
		Attempts: append([]domain.PaymentAttempt(nil), attempts...),
	}
}

// AppendAttempt adds a new attempt row. An attempt created already settled
// also records its outcome.
func (m *Mutation) AppendAttempt(a domain.PaymentAttempt) {
	m.Attempts = append(m.Attempts, a)
	m.added = append(m.added, a)
	if a.Resolved() {
		m.outcomes = append(m.outcomes, domain.AttemptOutcome{
			AttemptID:    a.ID,
			ResponseCode: a.ResponseCode,
			ResultStatus: a.ResultStatus,
			ResolvedAt:   *a.ResolvedAt,
		})
	}
}

// Resolve records the single outcome of an existing attempt.
func (m *Mutation) Resolve(o domain.AttemptOutcome) error {
	const op = "repository.Mutation.Resolve"

	for i := range m.Attempts {
		if m.Attempts[i].ID != o.AttemptID {
			continue
		}
		if m.Attempts[i].Resolved() {
			return fmt.Errorf("%s: %w", op, ErrAlreadyResolved)
		}
		m.Attempts[i] = m.Attempts[i].Apply(o)
		m.outcomes = append(m.outcomes, o)
		return nil
	}

	return fmt.Errorf("%s: %w", op, ErrNotFound)
}

// Emit sets the event of this mutation. A mutation emits at most one event;
// a later call replaces the earlier one.
func (m *Mutation) Emit(ev domain.Event) {
	m.event = &ev
}

func (m *Mutation) Event() *domain.Event { return m.event }

func (m *Mutation) Added() []domain.PaymentAttempt { return m.added }

func (m *Mutation) Outcomes() []domain.AttemptOutcome { return m.outcomes }

// Dirty reports whether the mutation has anything to persist.
func (m *Mutation) Dirty() bool { return m.event != nil }
