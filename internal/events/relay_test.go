package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	memoryrepo "github.com/cleanhome/bookingd/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	failOn map[uuid.UUID]bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[ev.ID] {
		return errors.New("broker down")
	}
	r.events = append(r.events, ev)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func seedBookings(t *testing.T, store *memoryrepo.Store, n int) []domain.Event {
	t.Helper()

	out := make([]domain.Event, 0, n)
	for i := range n {
		b := &domain.Booking{
			ID:            uuid.New(),
			BookingCode:   "CH00000" + string(rune('A'+i)),
			Status:        domain.StatusPending,
			PaymentStatus: domain.PaymentUnpaid,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		ev := domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "t", now)
		require.NoError(t, store.CreateBooking(context.Background(), b, ev))
		out = append(out, ev)
	}
	return out
}

func TestRelay_DrainPublishesInOrder(t *testing.T) {
	store := memoryrepo.NewStore()
	evs := seedBookings(t, store, 3)

	rec := &recorder{}
	r := NewRelay(store.Outbox(), clock.NewFake(now), discard(), Config{BatchSize: 10}, rec, NewLogPublisher(discard()))

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, rec.events, 3)
	for i := range evs {
		assert.Equal(t, evs[i].ID, rec.events[i].ID)
	}

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_StopsAtFailureAndRetries(t *testing.T) {
	store := memoryrepo.NewStore()
	evs := seedBookings(t, store, 3)

	rec := &recorder{failOn: map[uuid.UUID]bool{evs[1].ID: true}}
	r := NewRelay(store.Outbox(), clock.NewFake(now), discard(), Config{BatchSize: 10}, rec)

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.Outbox().Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	rec.mu.Lock()
	rec.failOn = nil
	rec.mu.Unlock()

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, rec.events, 3)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := memoryrepo.NewStore()
	seedBookings(t, store, 1)

	rec := &recorder{}
	r := NewRelay(store.Outbox(), clock.NewFake(now), discard(), Config{PollInterval: time.Hour}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
