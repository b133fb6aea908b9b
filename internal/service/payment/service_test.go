package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/metrics"
	"github.com/cleanhome/bookingd/internal/service/assignment"
	"github.com/cleanhome/bookingd/internal/service/lifecycle"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/cleanhome/bookingd/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initiate(env *servicetest.Env, id uuid.UUID) (payment.Initiation, error) {
	return env.Payments.Initiate(context.Background(), payment.InitiateInput{
		BookingID: id,
		Method:    domain.MethodGateway,
		Actor:     "customer",
	})
}

func retry(env *servicetest.Env, id uuid.UUID) (payment.Initiation, error) {
	return env.Payments.Retry(context.Background(), payment.InitiateInput{
		BookingID: id,
		Method:    domain.MethodGateway,
		Actor:     "customer",
	})
}

func reconcile(env *servicetest.Env, attempt uuid.UUID, code string, res domain.AttemptResult) (payment.Reconciliation, error) {
	return env.Payments.Reconcile(context.Background(), payment.ReconcileInput{
		AttemptID:    attempt,
		ResponseCode: code,
		Result:       res,
	})
}

func transition(t *testing.T, env *servicetest.Env, id uuid.UUID, to domain.BookingStatus) {
	t.Helper()
	_, err := env.Lifecycle.Transition(context.Background(), lifecycle.TransitionInput{
		BookingID: id,
		Target:    to,
		Actor:     "admin",
		Reason:    "test",
	})
	require.NoError(t, err)
}

func paymentStatus(t *testing.T, env *servicetest.Env, id uuid.UUID) domain.PaymentStatus {
	t.Helper()
	b, err := env.Store.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b.PaymentStatus
}

func TestScenario_FullHappyPath(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)

	b := env.Booking(t, 300000)
	assert.Equal(t, domain.StatusPending, b.Status)
	assert.Equal(t, domain.PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, int64(300000), b.TotalPrice)

	s1 := env.Staff(domain.StaffActive)
	_, err := env.Assignment.Assign(ctx, assignment.AssignInput{BookingID: b.ID, StaffIDs: []uuid.UUID{s1}, Actor: "admin"})
	require.NoError(t, err)

	transition(t, env, b.ID, domain.StatusConfirmed)
	transition(t, env, b.ID, domain.StatusInProgress)

	a1, err := initiate(env, b.ID)
	require.NoError(t, err)
	assert.False(t, a1.Reused)
	assert.NotEmpty(t, a1.Attempt.RedirectURL)
	assert.Equal(t, domain.PaymentPending, a1.Booking.PaymentStatus)

	rec, err := reconcile(env, a1.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, domain.PaymentPaid, rec.Booking.PaymentStatus)

	transition(t, env, b.ID, domain.StatusCompleted)

	_, err = env.Assignment.Assign(ctx, assignment.AssignInput{BookingID: b.ID, StaffIDs: []uuid.UUID{s1}, Actor: "admin"})
	assert.ErrorIs(t, err, domain.ErrBookingLocked)

	assert.Equal(t, []domain.EventType{
		domain.EventBookingCreated,
		domain.EventStaffAssigned,
		domain.EventBookingConfirmed,
		domain.EventBookingStarted,
		domain.EventPaymentInitiated,
		domain.EventPaymentSucceeded,
		domain.EventBookingCompleted,
	}, env.EventTypes(b.ID))
}

func TestScenario_RetryAfterFailureIgnoresStaleCallback(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	a1, err := initiate(env, b.ID)
	require.NoError(t, err)
	_, err = reconcile(env, a1.Attempt.ID, "24", domain.ResultFailure)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentFailed, paymentStatus(t, env, b.ID))

	env.Clock.Advance(time.Minute)
	a2, err := retry(env, b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a1.Attempt.ID, a2.Attempt.ID)
	assert.Equal(t, domain.PaymentPending, a2.Booking.PaymentStatus)

	dup, err := reconcile(env, a1.Attempt.ID, "24", domain.ResultFailure)
	require.NoError(t, err)
	assert.False(t, dup.Applied)
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, b.ID))

	rec, err := reconcile(env, a2.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, rec.Booking.PaymentStatus)
}

func TestReconcile_Idempotent(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)
	a1, err := initiate(env, b.ID)
	require.NoError(t, err)

	first, err := reconcile(env, a1.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)
	second, err := reconcile(env, a1.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Booking.Version, second.Booking.Version)
	assert.Equal(t, domain.PaymentPaid, second.Booking.PaymentStatus)

	_, err = reconcile(env, a1.Attempt.ID, "24", domain.ResultFailure)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.PaymentPaid, paymentStatus(t, env, b.ID))
}

func TestReconcile_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)
	a1, err := initiate(env, b.ID)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := reconcile(env, a1.Attempt.ID, "00", domain.ResultSuccess)
			assert.NoError(t, err)
			if rec.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, []domain.EventType{
		domain.EventBookingCreated,
		domain.EventPaymentInitiated,
		domain.EventPaymentSucceeded,
	}, env.EventTypes(b.ID))
}

func TestReconcile_AmountMismatch(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	a1, err := initiate(env, b.ID)
	require.NoError(t, err)

	_, err = env.Bookings.Reprice(ctx, b.ID, domain.Pricing{Subtotal: 350000}, "admin")
	require.NoError(t, err)

	_, err = reconcile(env, a1.Attempt.ID, "00", domain.ResultSuccess)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, domain.CodeAmountMismatch, domain.CodeOf(err))
	assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, b.ID))

	att, err := env.Store.GetAttempt(ctx, a1.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, att.ResultStatus)
}

func TestReconcile_OutOfOrderFailureKeepsNewerAttempt(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	a1, err := initiate(env, b.ID)
	require.NoError(t, err)

	// a1 expires without a callback; the stale pending status allows retry.
	env.Clock.Advance(16 * time.Minute)
	a2, err := retry(env, b.ID)
	require.NoError(t, err)

	rec, err := reconcile(env, a1.Attempt.ID, "11", domain.ResultFailure)
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, domain.PaymentPending, rec.Booking.PaymentStatus)

	evs := env.Events()
	assert.Equal(t, domain.EventAttemptResolved, evs[len(evs)-1].Type)

	rec, err = reconcile(env, a2.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, rec.Booking.PaymentStatus)
}

func TestReconcile_Rejections(t *testing.T) {
	env := servicetest.New(t)

	_, err := reconcile(env, uuid.New(), "00", domain.ResultSuccess)
	assert.ErrorIs(t, err, domain.ErrUnknownAttempt)

	_, err = reconcile(env, uuid.New(), "00", domain.AttemptResult("maybe"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	b := env.Booking(t, 300000)
	a1, err := initiate(env, b.ID)
	require.NoError(t, err)
	rec, err := reconcile(env, a1.Attempt.ID, "", domain.ResultPending)
	require.NoError(t, err)
	assert.False(t, rec.Applied)
}

func TestInitiate_ReusesLivePendingAttempt(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	first, err := initiate(env, b.ID)
	require.NoError(t, err)

	env.Clock.Advance(5 * time.Minute)
	second, err := initiate(env, b.ID)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Attempt.ID, second.Attempt.ID)
	assert.Equal(t, 1, env.Gateway.Calls())

	attempts, err := env.Store.ListAttempts(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestInitiate_StatusRules(t *testing.T) {
	env := servicetest.New(t)

	t.Run("paid", func(t *testing.T) {
		b := env.Booking(t, 300000)
		a, err := initiate(env, b.ID)
		require.NoError(t, err)
		_, err = reconcile(env, a.Attempt.ID, "00", domain.ResultSuccess)
		require.NoError(t, err)

		_, err = initiate(env, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		_, err = retry(env, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("retry needs failure", func(t *testing.T) {
		b := env.Booking(t, 300000)
		_, err := retry(env, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("retry while live pending", func(t *testing.T) {
		b := env.Booking(t, 300000)
		a, err := initiate(env, b.ID)
		require.NoError(t, err)

		_, err = retry(env, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		attempts, err := env.Store.ListAttempts(context.Background(), b.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, a.Attempt.ID, attempts[0].ID)
		assert.Equal(t, domain.PaymentPending, paymentStatus(t, env, b.ID))
	})

	t.Run("retry after expiry", func(t *testing.T) {
		b := env.Booking(t, 300000)
		a, err := initiate(env, b.ID)
		require.NoError(t, err)
		env.Clock.Advance(16 * time.Minute)

		r, err := retry(env, b.ID)
		require.NoError(t, err)
		assert.False(t, r.Reused)
		assert.NotEqual(t, a.Attempt.ID, r.Attempt.ID)
	})

	t.Run("cancelled", func(t *testing.T) {
		b := env.Booking(t, 300000)
		transition(t, env, b.ID, domain.StatusCancelled)
		_, err := initiate(env, b.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("cash goes through mark paid", func(t *testing.T) {
		b := env.Booking(t, 300000)
		_, err := env.Payments.Initiate(context.Background(), payment.InitiateInput{BookingID: b.ID, Method: domain.MethodCash})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := initiate(env, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestInitiate_GatewayErrorWritesNothing(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	env.Gateway.Err = errors.New("gateway down")
	_, err := initiate(env, b.ID)
	require.Error(t, err)

	assert.Equal(t, domain.PaymentUnpaid, paymentStatus(t, env, b.ID))
	attempts, err := env.Store.ListAttempts(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestInitiate_RepriceDuringCheckout(t *testing.T) {
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	env.Gateway.During = func() {
		_, err := env.Bookings.Reprice(context.Background(), b.ID, domain.Pricing{Subtotal: 310000}, "admin")
		assert.NoError(t, err)
	}

	_, err := initiate(env, b.ID)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, domain.PaymentUnpaid, paymentStatus(t, env, b.ID))
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)

	b := env.Booking(t, 300000)
	_, err := env.Payments.MarkPaid(ctx, b.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrNotEligible, "unstarted booking")

	s1 := env.Staff(domain.StaffActive)
	_, err = env.Assignment.Assign(ctx, assignment.AssignInput{BookingID: b.ID, StaffIDs: []uuid.UUID{s1}, Actor: "admin"})
	require.NoError(t, err)
	transition(t, env, b.ID, domain.StatusConfirmed)
	transition(t, env, b.ID, domain.StatusInProgress)
	transition(t, env, b.ID, domain.StatusCompleted)

	got, err := env.Payments.MarkPaid(ctx, b.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, domain.MethodCash, *got.PaymentMethod)

	attempts, err := env.Store.ListAttempts(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.MethodCash, attempts[0].Method)
	assert.Equal(t, domain.ResultSuccess, attempts[0].ResultStatus)
	assert.Equal(t, int64(300000), attempts[0].Amount)

	_, err = env.Payments.MarkPaid(ctx, b.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrNotEligible, "double marking")
}

func TestRecordRefund(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	b := env.Booking(t, 300000)

	_, err := env.Payments.RecordRefund(ctx, payment.RefundInput{BookingID: b.ID, Actor: "admin"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	a, err := initiate(env, b.ID)
	require.NoError(t, err)
	_, err = reconcile(env, a.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)

	_, err = env.Payments.RecordRefund(ctx, payment.RefundInput{BookingID: b.ID, Actor: "admin", Amount: 400000})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, err := env.Payments.RecordRefund(ctx, payment.RefundInput{BookingID: b.ID, Actor: "admin", Amount: 150000})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, got.PaymentStatus)

	evs := env.Events()
	last := evs[len(evs)-1]
	assert.Equal(t, domain.EventPaymentRefunded, last.Type)
	assert.Equal(t, int64(150000), last.Payload.Amount)
}

func TestBookingCompleted_CountsUnsettled(t *testing.T) {
	ctx := context.Background()
	env := servicetest.New(t)
	unpaid := func() float64 {
		return testutil.ToFloat64(metrics.CompletedUnsettledTotal.WithLabelValues(string(domain.PaymentUnpaid)))
	}
	complete := func(id uuid.UUID) {
		s1 := env.Staff(domain.StaffActive)
		_, err := env.Assignment.Assign(ctx, assignment.AssignInput{BookingID: id, StaffIDs: []uuid.UUID{s1}, Actor: "admin"})
		require.NoError(t, err)
		transition(t, env, id, domain.StatusConfirmed)
		transition(t, env, id, domain.StatusInProgress)
		transition(t, env, id, domain.StatusCompleted)
	}

	before := unpaid()
	complete(env.Booking(t, 300000).ID)
	assert.Equal(t, before+1, unpaid())

	paid := env.Booking(t, 300000)
	a, err := initiate(env, paid.ID)
	require.NoError(t, err)
	_, err = reconcile(env, a.Attempt.ID, "00", domain.ResultSuccess)
	require.NoError(t, err)

	settled := testutil.ToFloat64(metrics.CompletedUnsettledTotal.WithLabelValues(string(domain.PaymentPaid)))
	complete(paid.ID)
	assert.Equal(t, before+1, unpaid())
	assert.Zero(t, testutil.ToFloat64(metrics.CompletedUnsettledTotal.WithLabelValues(string(domain.PaymentPaid)))-settled)
}
