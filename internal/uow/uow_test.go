package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/repository"
	memoryrepo "github.com/cleanhome/bookingd/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store repository.Store) *domain.Booking {
	t.Helper()

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	b := &domain.Booking{
		ID:                 uuid.New(),
		BookingCode:        "CH000001ABCDE",
		ScheduledDate:      now,
		ScheduledStartTime: "09:00",
		Status:             domain.StatusPending,
		PaymentStatus:      domain.PaymentUnpaid,
		AssignedStaff:      []domain.StaffAssignment{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, store.CreateBooking(context.Background(), b, domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "t", now)))
	return b
}

func TestUoW_Do_RunsHooksAfterCommit(t *testing.T) {
	store := memoryrepo.NewStore()
	b := seed(t, store)

	var seen []domain.EventType
	u := NewUoW(store, func(ctx context.Context, ev domain.Event) {
		seen = append(seen, ev.Type)
	})

	afterRan := false
	_, err := u.Do(context.Background(), b.ID, func(m *repository.Mutation, after func(AfterCommit)) error {
		m.Booking.Status = domain.StatusConfirmed
		m.Emit(domain.NewEvent(uuid.New(), domain.EventBookingConfirmed, m.Booking, "t", time.Now()))
		after(func(ctx context.Context) { afterRan = true })
		return nil
	})
	require.NoError(t, err)

	assert.True(t, afterRan)
	assert.Equal(t, []domain.EventType{domain.EventBookingConfirmed}, seen)
}

func TestUoW_Do_SkipsHooksOnNoopAndError(t *testing.T) {
	store := memoryrepo.NewStore()
	b := seed(t, store)

	calls := 0
	u := NewUoW(store, func(ctx context.Context, ev domain.Event) { calls++ })

	_, err := u.Do(context.Background(), b.ID, func(m *repository.Mutation, after func(AfterCommit)) error {
		after(func(ctx context.Context) { calls++ })
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = u.Do(context.Background(), b.ID, func(m *repository.Mutation, after func(AfterCommit)) error {
		m.Emit(domain.NewEvent(uuid.New(), domain.EventBookingConfirmed, m.Booking, "t", time.Now()))
		after(func(ctx context.Context) { calls++ })
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Zero(t, calls)
}
