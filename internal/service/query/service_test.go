package query_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/service/assignment"
	"github.com/cleanhome/bookingd/internal/service/booking"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/query"
	"github.com/cleanhome/bookingd/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, env *servicetest.Env, n int) []*domain.Booking {
	t.Helper()
	out := make([]*domain.Booking, 0, n)
	for range n {
		out = append(out, env.Booking(t, 300000))
		env.Clock.Advance(time.Second)
	}
	return out
}

func TestList_PagesPartitionTheResult(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	seed(t, env, 47)

	seen := map[uuid.UUID]int{}
	total := 0
	var prev *domain.Booking

	first, err := env.Query.List(ctx, query.ListInput{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 47, first.TotalCount)
	assert.Equal(t, 5, first.TotalPages)

	for page := 1; page <= first.TotalPages; page++ {
		p, err := env.Query.List(ctx, query.ListInput{Page: page, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 47, p.TotalCount)

		for i := range p.Items {
			b := &p.Items[i]
			seen[b.ID]++
			if prev != nil {
				assert.True(t, domain.Before(prev, b), "order must be strictly newest first")
			}
			prev = b
		}
		total += len(p.Items)
	}

	assert.Equal(t, 47, total)
	assert.Len(t, seen, 47)
	for id, n := range seen {
		assert.Equal(t, 1, n, "booking %s appears on %d pages", id, n)
	}
}

func TestList_PageBeyondEndIsEmpty(t *testing.T) {
	env := servicetest.New(t)
	seed(t, env, 3)

	p, err := env.Query.List(context.Background(), query.ListInput{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)
	assert.Equal(t, 3, p.TotalCount)
	assert.Equal(t, 2, p.TotalPages)
	assert.Equal(t, 9, p.Page)

	for _, page := range []int{math.MaxInt / 50, math.MaxInt} {
		p, err = env.Query.List(context.Background(), query.ListInput{Page: page, PageSize: 100})
		require.NoError(t, err)
		assert.Empty(t, p.Items)
		assert.Equal(t, 3, p.TotalCount)
		assert.Equal(t, page, p.Page)
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	bs := seed(t, env, 4)

	staff := env.Staff(domain.StaffActive)
	_, err := env.Assignment.Assign(ctx, assignment.AssignInput{BookingID: bs[0].ID, StaffIDs: []uuid.UUID{staff}, Actor: "admin"})
	require.NoError(t, err)
	_, err = env.Lifecycle.Transition(ctx, lifecycle.TransitionInput{BookingID: bs[1].ID, Target: domain.StatusConfirmed, Actor: "admin"})
	require.NoError(t, err)

	special, err := env.Bookings.Create(ctx, booking.CreateInput{
		CustomerID:    uuid.New(),
		CustomerName:  "Le Minh Chau",
		ServiceID:     uuid.New(),
		ServiceName:   "Window Washing",
		ScheduledDate: servicetest.Start.AddDate(0, 0, 5),
		StartTime:     "14:00",
		Pricing:       domain.Pricing{Subtotal: 120000},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   query.ListInput
		want []uuid.UUID
	}{
		{"by staff", query.ListInput{Staff: staff.String()}, []uuid.UUID{bs[0].ID}},
		{"confirmed", query.ListInput{Status: "confirmed"}, []uuid.UUID{bs[1].ID}},
		{"unassigned", query.ListInput{Staff: "unassigned", Status: "confirmed"}, []uuid.UUID{bs[1].ID}},
		{"search customer", query.ListInput{Search: "minh CHAU"}, []uuid.UUID{special.ID}},
		{"search service", query.ListInput{Search: "window"}, []uuid.UUID{special.ID}},
		{"search code", query.ListInput{Search: special.BookingCode[:9]}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := env.Query.List(ctx, tt.in)
			require.NoError(t, err)

			var got []uuid.UUID
			for _, b := range p.Items {
				got = append(got, b.ID)
			}
			if tt.want == nil {
				assert.Contains(t, got, special.ID)
				return
			}
			assert.ElementsMatch(t, tt.want, got)
			assert.Equal(t, len(tt.want), p.TotalCount)
		})
	}

	unassigned, err := env.Query.List(ctx, query.ListInput{Staff: "unassigned"})
	require.NoError(t, err)
	assert.Equal(t, 4, unassigned.TotalCount)
}

func TestList_Arguments(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	seed(t, env, 1)

	_, err := env.Query.List(ctx, query.ListInput{Page: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.Query.List(ctx, query.ListInput{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.Query.List(ctx, query.ListInput{Staff: "nobody"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, err := env.Query.List(ctx, query.ListInput{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPageSize, p.PageSize)
	assert.Equal(t, 1, p.Page)

	p, err = env.Query.List(ctx, query.ListInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPageSize, p.PageSize)
}

func TestList_SnapshotUnderConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	bs := seed(t, env, 60)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, b := range bs {
			_, err := env.Lifecycle.Transition(ctx, lifecycle.TransitionInput{BookingID: b.ID, Target: domain.StatusConfirmed, Actor: "admin"})
			assert.NoError(t, err)
		}
	}()

	for range 50 {
		p, err := env.Query.List(ctx, query.ListInput{Status: "pending", PageSize: 100})
		require.NoError(t, err)
		assert.Len(t, p.Items, p.TotalCount, "count and page come from one snapshot")
	}
	wg.Wait()

	p, err := env.Query.List(ctx, query.ListInput{Status: "pending"})
	require.NoError(t, err)
	assert.Zero(t, p.TotalCount)
}

func TestGetAndAttempts(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	got, err := env.Query.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.BookingCode, got.BookingCode)

	_, err = env.Query.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	attempts, err := env.Query.Attempts(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	_, err = env.Query.Attempts(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, env.Query.Invalidate(ctx, b.ID))
}
