package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	memoryrepo "github.com/cleanhome/bookingd/internal/repository/memory"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newService(store repository.Store) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(uow.NewUoW(store), clock.NewFake(t0), clock.UUIDv7{}, log)
}

func input() CreateInput {
	return CreateInput{
		CustomerID:    uuid.New(),
		CustomerName:  "  Pham Thu Ha ",
		ServiceID:     uuid.New(),
		ServiceName:   "Move-out clean",
		ScheduledDate: time.Date(2025, 6, 3, 17, 45, 0, 0, time.FixedZone("ICT", 7*3600)),
		StartTime:     "09:00",
		Pricing:       domain.Pricing{Subtotal: 300000, Discount: 20000, Tax: 28000},
		Actor:         "customer",
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store := memoryrepo.NewStore()
	s := newService(store)

	b, err := s.Create(ctx, input())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, b.Status)
	assert.Equal(t, domain.PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, int64(308000), b.TotalPrice)
	assert.Equal(t, "Pham Thu Ha", b.CustomerName)
	assert.Regexp(t, `^CH\d{6}[A-Z0-9]{5}$`, b.BookingCode)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), b.ScheduledDate)
	assert.Empty(t, b.AssignedStaff)

	stored, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.BookingCode, stored.BookingCode)

	pending, err := store.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventBookingCreated, pending[0].Type)
}

func TestCreate_RetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	s := newService(memoryrepo.NewStore())

	codes := []string{"CH000001AAAAA", "CH000001AAAAA", "CH000001BBBBB"}
	s.code = func(time.Time) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := s.Create(ctx, input())
	require.NoError(t, err)
	second, err := s.Create(ctx, input())
	require.NoError(t, err)

	assert.Equal(t, "CH000001AAAAA", first.BookingCode)
	assert.Equal(t, "CH000001BBBBB", second.BookingCode)
}

func TestCreate_Validation(t *testing.T) {
	s := newService(memoryrepo.NewStore())
	end := "08:00"

	tests := map[string]func(in *CreateInput){
		"missing customer":  func(in *CreateInput) { in.CustomerID = uuid.Nil },
		"bad start":         func(in *CreateInput) { in.StartTime = "9am" },
		"end before start":  func(in *CreateInput) { in.EndTime = &end },
		"discount too big":  func(in *CreateInput) { in.Pricing.Discount = 400000 },
		"unknown method":    func(in *CreateInput) { m := domain.PaymentMethod("barter"); in.PaymentMethod = &m },
		"no scheduled date": func(in *CreateInput) { in.ScheduledDate = time.Time{} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := input()
			mutate(&in)
			_, err := s.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestReprice(t *testing.T) {
	ctx := context.Background()
	store := memoryrepo.NewStore()
	s := newService(store)

	b, err := s.Create(ctx, input())
	require.NoError(t, err)

	got, err := s.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 400000}, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(400000), got.TotalPrice)
	assert.Equal(t, int64(1), got.Version)

	same, err := s.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 400000}, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), same.Version, "unchanged pricing is a no-op")

	_, err = s.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 1, Discount: 2}, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = s.Reprice(ctx, uuid.New(), domain.Pricing{Subtotal: 1}, "admin")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err := store.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventBookingRepriced, pending[1].Type)
	assert.Equal(t, int64(308000), pending[1].Payload.PreviousTotal)
}

func TestReprice_LockedAndPaid(t *testing.T) {
	ctx := context.Background()
	store := memoryrepo.NewStore()
	s := newService(store)

	b, err := s.Create(ctx, input())
	require.NoError(t, err)

	_, err = s.uow.Do(ctx, b.ID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		m.Booking.PaymentStatus = domain.PaymentPaid
		m.Emit(domain.NewEvent(uuid.New(), domain.EventPaymentSucceeded, m.Booking, "test", t0))
		return nil
	})
	require.NoError(t, err)

	_, err = s.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 1}, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = s.uow.Do(ctx, b.ID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		m.Booking.Status = domain.StatusCancelled
		m.Emit(domain.NewEvent(uuid.New(), domain.EventBookingCancelled, m.Booking, "test", t0))
		return nil
	})
	require.NoError(t, err)

	_, err = s.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 1}, "admin")
	assert.ErrorIs(t, err, domain.ErrBookingLocked)
}
