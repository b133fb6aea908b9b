// Package servicetest wires the services over the in-memory store for tests.
package servicetest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/gateway"
	memoryrepo "github.com/cleanhome/bookingd/internal/repository/memory"
	"github.com/cleanhome/bookingd/internal/service"
	"github.com/cleanhome/bookingd/internal/service/booking"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Start is the fake clock's initial reading.
var Start = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type Env struct {
	*service.Services

	Store   *memoryrepo.Store
	Roster  *memoryrepo.Roster
	Clock   *clock.Fake
	Gateway *Gateway

	mu     sync.Mutex
	events []domain.Event
}

func New(t *testing.T) *Env {
	t.Helper()

	e := &Env{
		Store:   memoryrepo.NewStore(),
		Roster:  memoryrepo.NewRoster(),
		Clock:   clock.NewFake(Start),
		Gateway: &Gateway{},
	}

	u := uow.NewUoW(e.Store, func(_ context.Context, ev domain.Event) {
		e.mu.Lock()
		e.events = append(e.events, ev)
		e.mu.Unlock()
	})

	e.Services = service.NewServices(service.Deps{
		Store:   e.Store,
		Roster:  e.Roster,
		UoW:     u,
		Gateway: e.Gateway,
		Clock:   e.Clock,
		IDs:     clock.UUIDv7{},
		Log:     Discard(),
	}, service.Config{
		Lifecycle: lifecycle.Config{Location: time.UTC},
		Payment:   payment.Config{AttemptTTL: 15 * time.Minute},
	})

	return e
}

func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Booking creates a pending booking scheduled three days after Start at
// 09:00 UTC.
func (e *Env) Booking(t *testing.T, total int64) *domain.Booking {
	t.Helper()

	b, err := e.Bookings.Create(context.Background(), booking.CreateInput{
		CustomerID:    uuid.New(),
		CustomerName:  "Tran Thi Binh",
		ServiceID:     uuid.New(),
		ServiceName:   "Standard clean",
		ScheduledDate: Start.AddDate(0, 0, 3),
		StartTime:     "09:00",
		Pricing:       domain.Pricing{Subtotal: total},
		Actor:         "customer",
	})
	require.NoError(t, err)
	return b
}

// Staff adds a roster entry and returns its id.
func (e *Env) Staff(status domain.StaffStatus) uuid.UUID {
	id := uuid.New()
	e.Roster.Put(domain.Staff{ID: id, Name: fmt.Sprintf("staff-%s", id.String()[:8]), Status: status})
	return id
}

// Events returns the committed events in commit order.
func (e *Env) Events() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Event(nil), e.events...)
}

// EventTypes returns the types of the committed events for one booking.
func (e *Env) EventTypes(bookingID uuid.UUID) []domain.EventType {
	var out []domain.EventType
	for _, ev := range e.Events() {
		if ev.BookingID == bookingID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Gateway is a scripted payment gateway.
type Gateway struct {
	mu    sync.Mutex
	calls int
	// Err fails every checkout when set.
	Err error
	// During runs inside Checkout, before it returns.
	During func()
}

func (g *Gateway) Checkout(_ context.Context, req gateway.Request) (gateway.Checkout, error) {
	g.mu.Lock()
	g.calls++
	during, err := g.During, g.Err
	g.mu.Unlock()

	if during != nil {
		during()
	}
	if err != nil {
		return gateway.Checkout{}, err
	}
	return gateway.Checkout{
		TxnRef:      req.AttemptID.String(),
		RedirectURL: "https://pay.test/checkout?ref=" + req.AttemptID.String(),
	}, nil
}

func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
