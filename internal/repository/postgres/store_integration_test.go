package postgresrepo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	pg "github.com/cleanhome/bookingd/internal/postgres"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres boots a throwaway postgres, applies the migrations and
// returns a pool. Runs only with INTEGRATION=1.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("set INTEGRATION=1 to run postgres integration tests")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "booking",
			"POSTGRES_PASSWORD": "booking",
			"POSTGRES_DB":       "booking",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://booking:booking@%s:%s/booking?sslmode=disable", host, port.Port())
	require.NoError(t, pg.Migrate(dsn))

	pool, err := pg.New(ctx, pg.Config{DSN: dsn, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

var baseTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func fixtureBooking(i int) *domain.Booking {
	end := "11:30"
	return &domain.Booking{
		ID:                 uuid.New(),
		BookingCode:        fmt.Sprintf("CH%06dZZZZZ", i),
		CustomerID:         uuid.New(),
		CustomerName:       fmt.Sprintf("Nguyen Van %d", i),
		ServiceID:          uuid.New(),
		ServiceName:        "Sofa cleaning",
		ScheduledDate:      time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		ScheduledStartTime: "09:00",
		ScheduledEndTime:   &end,
		Status:             domain.StatusPending,
		PaymentStatus:      domain.PaymentUnpaid,
		Subtotal:           300000,
		TotalPrice:         300000,
		AssignedStaff:      []domain.StaffAssignment{},
		CreatedAt:          baseTime.Add(time.Duration(i) * time.Second),
		UpdatedAt:          baseTime.Add(time.Duration(i) * time.Second),
	}
}

func TestStore_Integration_Lifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	store := NewStore(pool)

	staffID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO staff (id, name, status) VALUES ($1, 'Lan', 'active')`, staffID)
	require.NoError(t, err)

	b := fixtureBooking(1)
	require.NoError(t, store.CreateBooking(ctx, b, domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "test", baseTime)))

	err = store.CreateBooking(ctx, fixtureBooking(1), domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "test", baseTime))
	assert.ErrorIs(t, err, repository.ErrConflict)

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.ScheduledStartTime)
	require.NotNil(t, got.ScheduledEndTime)
	assert.Equal(t, "11:30", *got.ScheduledEndTime)

	notes := "bring ladder"
	attempt := domain.PaymentAttempt{
		ID:            uuid.New(),
		BookingID:     b.ID,
		Method:        domain.MethodGateway,
		GatewayTxnRef: "ref-1",
		Amount:        b.TotalPrice,
		ResultStatus:  domain.ResultPending,
		CreatedAt:     baseTime,
		ExpiresAt:     baseTime.Add(15 * time.Minute),
	}

	updated, err := store.Update(ctx, b.ID, func(m *repository.Mutation) error {
		m.Booking.AssignedStaff = []domain.StaffAssignment{{
			StaffID: staffID, AssignedAt: baseTime, AssignedBy: "admin", Notes: &notes,
		}}
		m.Booking.PaymentStatus = domain.PaymentPending
		m.Booking.Touch(baseTime.Add(time.Minute))
		m.AppendAttempt(attempt)
		m.Emit(domain.NewEvent(uuid.New(), domain.EventPaymentInitiated, m.Booking, "test", baseTime))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, updated.PaymentStatus)

	got, err = store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got.AssignedStaff, 1)
	assert.Equal(t, staffID, got.AssignedStaff[0].StaffID)

	_, err = store.Update(ctx, b.ID, func(m *repository.Mutation) error {
		if err := m.Resolve(domain.AttemptOutcome{
			AttemptID: attempt.ID, ResponseCode: "00", ResultStatus: domain.ResultSuccess, ResolvedAt: baseTime,
		}); err != nil {
			return err
		}
		m.Booking.PaymentStatus = domain.PaymentPaid
		m.Emit(domain.NewEvent(uuid.New(), domain.EventPaymentSucceeded, m.Booking, "test", baseTime))
		return nil
	})
	require.NoError(t, err)

	a, err := store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultSuccess, a.ResultStatus)
	assert.Equal(t, "00", a.ResponseCode)

	pending, err := store.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestStore_Integration_ConcurrentUpdatesSerialize(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	store := NewStore(pool)

	b := fixtureBooking(2)
	require.NoError(t, store.CreateBooking(ctx, b, domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "test", baseTime)))

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, b.ID, func(m *repository.Mutation) error {
				m.Booking.Touch(baseTime)
				m.Emit(domain.NewEvent(uuid.New(), domain.EventBookingRepriced, m.Booking, "test", baseTime))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, n, got.Version)
}

func TestStore_Integration_ListBookings(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	store := NewStore(pool)

	for i := range 25 {
		b := fixtureBooking(100 + i)
		require.NoError(t, store.CreateBooking(ctx, b, domain.NewEvent(uuid.New(), domain.EventBookingCreated, b, "test", baseTime)))
	}

	seen := map[uuid.UUID]bool{}
	sum := 0
	for page := 1; page <= 3; page++ {
		items, total, err := store.ListBookings(ctx, domain.ListQuery{Page: page, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		for _, b := range items {
			assert.False(t, seen[b.ID])
			seen[b.ID] = true
		}
		sum += len(items)
	}
	assert.Equal(t, 25, sum)

	items, total, err := store.ListBookings(ctx, domain.ListQuery{
		Filter:   domain.ListFilter{SearchTerm: "ch000105"},
		Page:     1,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "CH000105ZZZZZ", items[0].BookingCode)

	_, total, err = store.ListBookings(ctx, domain.ListQuery{
		Filter:   domain.ListFilter{Staff: domain.StaffFilter{Unassigned: true}},
		Page:     1,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
}
