// Package payment keeps a booking's payment status in line with the gateway
// and gates the manual cash path.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/gateway"
	"github.com/cleanhome/bookingd/internal/metrics"
	"github.com/cleanhome/bookingd/internal/obs"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
)

const DefaultAttemptTTL = 15 * time.Minute

type Config struct {
	// AttemptTTL is how long a pending attempt blocks new ones.
	AttemptTTL time.Duration
}

type Service struct {
	store   repository.Store
	uow     *uow.UoW
	gateway gateway.Gateway
	clock   clock.Clock
	ids     clock.IDGen
	log     *slog.Logger
	cfg     Config
}

func New(
	store repository.Store,
	u *uow.UoW,
	gw gateway.Gateway,
	clk clock.Clock,
	ids clock.IDGen,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = DefaultAttemptTTL
	}

	return &Service{
		store:   store,
		uow:     u,
		gateway: gw,
		clock:   clk,
		ids:     ids,
		log:     log,
		cfg:     cfg,
	}
}

type InitiateInput struct {
	BookingID uuid.UUID
	Method    domain.PaymentMethod
	Actor     string
	ClientIP  string
}

type Initiation struct {
	Booking *domain.Booking
	Attempt domain.PaymentAttempt
	// Reused is true when a live pending attempt was returned instead of a
	// new one.
	Reused bool
}

// Initiate opens a payment attempt for a booking whose payment status is
// unpaid or failed. A pending attempt that has not expired is returned as is.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Initiation, error) {
	const op = "service.payment.Initiate"
	return s.open(ctx, op, in, false)
}

// Retry opens a fresh attempt for a booking whose payment failed, including
// one whose pending attempt expired without a callback. A live pending
// attempt is rejected with domain.ErrInvalidState.
func (s *Service) Retry(ctx context.Context, in InitiateInput) (Initiation, error) {
	const op = "service.payment.Retry"
	return s.open(ctx, op, in, true)
}

func (s *Service) open(ctx context.Context, op string, in InitiateInput, retry bool) (Initiation, error) {
	ctx, span := obs.Start(ctx, op, in.BookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	if !in.Method.IsValid() || in.Method == domain.MethodCash {
		err = fmt.Errorf("%s: method %q cannot open an attempt: %w", op, in.Method, domain.ErrInvalidArgument)
		return Initiation{}, err
	}

	b, err := s.store.GetBooking(ctx, in.BookingID)
	if err != nil {
		err = repository.BookingErr(err)
		return Initiation{}, fmt.Errorf("%s: %w", op, err)
	}
	attempts, err := s.store.ListAttempts(ctx, in.BookingID)
	if err != nil {
		return Initiation{}, fmt.Errorf("%s: %w", op, err)
	}

	// Only Initiate hands back a live attempt; Retry requires a failure.
	now := s.clock.Now()
	if live := reusable(b, attempts, now); live != nil && !retry {
		metrics.RecordPaymentAttempt(string(live.Method), "reused")
		return Initiation{Booking: b, Attempt: *live, Reused: true}, nil
	}
	if err = eligible(b, attempts, now, retry); err != nil {
		return Initiation{}, fmt.Errorf("%s: %w", op, err)
	}

	// The gateway is called without holding the booking lock.
	attemptID := s.ids.NewID()
	expires := now.Add(s.cfg.AttemptTTL)
	co, err := s.gateway.Checkout(ctx, gateway.Request{
		AttemptID:   attemptID,
		BookingCode: b.BookingCode,
		Amount:      b.TotalPrice,
		Method:      in.Method,
		ClientIP:    in.ClientIP,
		CreatedAt:   now,
		ExpiresAt:   expires,
	})
	if err != nil {
		return Initiation{}, fmt.Errorf("%s: gateway: %w", op, err)
	}

	var (
		attempt domain.PaymentAttempt
		reused  bool
	)
	amount := b.TotalPrice

	b, err = s.uow.Do(ctx, in.BookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		now := s.clock.Now()

		if live := reusable(cur, m.Attempts, now); live != nil && !retry {
			attempt, reused = *live, true
			return nil
		}
		if err := eligible(cur, m.Attempts, now, retry); err != nil {
			return err
		}
		if cur.TotalPrice != amount {
			return domain.ErrAmountMismatch
		}

		attempt = domain.PaymentAttempt{
			ID:            attemptID,
			BookingID:     cur.ID,
			Method:        in.Method,
			GatewayTxnRef: co.TxnRef,
			RedirectURL:   co.RedirectURL,
			Amount:        amount,
			ResultStatus:  domain.ResultPending,
			CreatedBy:     in.Actor,
			CreatedAt:     now,
			ExpiresAt:     expires,
		}
		reused = false
		m.AppendAttempt(attempt)

		method := in.Method
		cur.PaymentStatus = domain.PaymentPending
		cur.PaymentMethod = &method
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventPaymentInitiated, cur, in.Actor, now)
		ev.Payload.AttemptID = &attempt.ID
		ev.Payload.Amount = attempt.Amount
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		return Initiation{}, fmt.Errorf("%s: %w", op, err)
	}

	kind := "created"
	if reused {
		kind = "reused"
	}
	metrics.RecordPaymentAttempt(string(attempt.Method), kind)

	s.log.Info("payment attempt opened",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("attempt_id", attempt.ID.String()),
		slog.Bool("reused", reused),
	)

	return Initiation{Booking: b, Attempt: attempt, Reused: reused}, nil
}

// reusable returns the live pending attempt of a booking still waiting on
// the gateway.
func reusable(b *domain.Booking, attempts []domain.PaymentAttempt, now time.Time) *domain.PaymentAttempt {
	if b.Status == domain.StatusCancelled || b.PaymentStatus != domain.PaymentPending {
		return nil
	}
	return domain.LivePendingAttempt(attempts, now)
}

func eligible(b *domain.Booking, attempts []domain.PaymentAttempt, now time.Time, retry bool) error {
	if b.Status == domain.StatusCancelled {
		return domain.ErrInvalidState
	}

	eff := domain.EffectivePaymentStatus(b, attempts, now)
	if retry {
		if eff != domain.PaymentFailed {
			return domain.ErrInvalidState
		}
		return nil
	}
	if eff != domain.PaymentUnpaid && eff != domain.PaymentFailed {
		return domain.ErrInvalidState
	}
	return nil
}

type ReconcileInput struct {
	AttemptID    uuid.UUID
	ResponseCode string
	Result       domain.AttemptResult
}

type Reconciliation struct {
	Booking *domain.Booking
	Attempt domain.PaymentAttempt
	// Applied is false for redelivered or still-pending callbacks.
	Applied bool
}

// Reconcile applies a gateway verdict to the attempt it names. It never
// looks at any other attempt to decide what to record, so callbacks may
// arrive late, twice, or out of order.
//
// Returns:
//   - domain.ErrUnknownAttempt if no such attempt exists.
//   - domain.ErrAmountMismatch if a success reports an amount other than the
//     booking's current total; nothing is recorded.
//   - domain.ErrInvalidState if the attempt was already settled the other way.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (Reconciliation, error) {
	const op = "service.payment.Reconcile"

	ctx, span := obs.Start(ctx, op, "")
	var err error
	defer func() { obs.End(span, err) }()

	if !in.Result.IsValid() {
		err = fmt.Errorf("%s: unknown result %q: %w", op, in.Result, domain.ErrInvalidArgument)
		return Reconciliation{}, err
	}

	a, err := s.store.GetAttempt(ctx, in.AttemptID)
	if errors.Is(err, repository.ErrNotFound) {
		err = fmt.Errorf("%s: %w", op, domain.ErrUnknownAttempt)
		metrics.RecordReconciliation(string(in.Result), "rejected")
		return Reconciliation{}, err
	}
	if err != nil {
		return Reconciliation{}, fmt.Errorf("%s: %w", op, err)
	}

	var (
		attempt domain.PaymentAttempt
		applied bool
	)

	b, err := s.uow.Do(ctx, a.BookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		applied = false
		cur := m.Booking

		att := domain.FindAttempt(m.Attempts, in.AttemptID)
		if att == nil {
			return domain.ErrUnknownAttempt
		}
		attempt = *att

		if in.Result == domain.ResultPending {
			return nil
		}
		if att.Resolved() {
			if att.ResultStatus == in.Result {
				return nil
			}
			return domain.ErrInvalidState
		}
		if in.Result == domain.ResultSuccess && att.Amount != cur.TotalPrice {
			return domain.ErrAmountMismatch
		}

		now := s.clock.Now()
		latest := domain.LatestAttempt(m.Attempts)
		isLatest := latest != nil && latest.ID == att.ID

		if err := m.Resolve(domain.AttemptOutcome{
			AttemptID:    att.ID,
			ResponseCode: in.ResponseCode,
			ResultStatus: in.Result,
			ResolvedAt:   now,
		}); err != nil {
			return err
		}
		attempt = *domain.FindAttempt(m.Attempts, in.AttemptID)

		typ := domain.EventAttemptResolved
		switch in.Result {
		case domain.ResultSuccess:
			switch cur.PaymentStatus {
			case domain.PaymentUnpaid, domain.PaymentPending, domain.PaymentFailed:
				method := attempt.Method
				cur.PaymentStatus = domain.PaymentPaid
				cur.PaymentMethod = &method
				typ = domain.EventPaymentSucceeded
			}
		case domain.ResultFailure:
			// An older attempt failing must not undo a newer one.
			if isLatest && cur.PaymentStatus == domain.PaymentPending {
				cur.PaymentStatus = domain.PaymentFailed
				typ = domain.EventPaymentFailed
			}
		}

		cur.Touch(now)
		ev := domain.NewEvent(s.ids.NewID(), typ, cur, "gateway", now)
		ev.Payload.AttemptID = &attempt.ID
		ev.Payload.ResponseCode = in.ResponseCode
		ev.Payload.Amount = attempt.Amount
		m.Emit(ev)
		applied = true

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		metrics.RecordReconciliation(string(in.Result), "rejected")
		return Reconciliation{}, fmt.Errorf("%s: %w", op, err)
	}

	effect := "noop"
	if applied {
		effect = "applied"
	}
	metrics.RecordReconciliation(string(in.Result), effect)

	s.log.Info("payment reconciled",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("attempt_id", in.AttemptID.String()),
		slog.String("result", string(in.Result)),
		slog.String("response_code", in.ResponseCode),
		slog.String("payment_status", string(b.PaymentStatus)),
		slog.Bool("applied", applied),
	)

	return Reconciliation{Booking: b, Attempt: attempt, Applied: applied}, nil
}

// MarkPaid settles a started or finished booking in cash. It records a
// synthetic successful cash attempt and bypasses the gateway.
func (s *Service) MarkPaid(ctx context.Context, bookingID uuid.UUID, actor string) (*domain.Booking, error) {
	const op = "service.payment.MarkPaid"

	ctx, span := obs.Start(ctx, op, bookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	var b *domain.Booking
	b, err = s.uow.Do(ctx, bookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		if cur.Status != domain.StatusCompleted && cur.Status != domain.StatusInProgress {
			return domain.ErrNotEligible
		}
		if cur.PaymentStatus != domain.PaymentUnpaid && cur.PaymentStatus != domain.PaymentPending {
			return domain.ErrNotEligible
		}

		now := s.clock.Now()
		id := s.ids.NewID()
		m.AppendAttempt(domain.PaymentAttempt{
			ID:            id,
			BookingID:     cur.ID,
			Method:        domain.MethodCash,
			GatewayTxnRef: "CASH-" + id.String(),
			Amount:        cur.TotalPrice,
			ResultStatus:  domain.ResultSuccess,
			CreatedBy:     actor,
			CreatedAt:     now,
			ExpiresAt:     now,
			ResolvedAt:    &now,
		})

		method := domain.MethodCash
		cur.PaymentStatus = domain.PaymentPaid
		cur.PaymentMethod = &method
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventPaymentMarkedPaid, cur, actor, now)
		ev.Payload.AttemptID = &id
		ev.Payload.Amount = cur.TotalPrice
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordPaymentAttempt(string(domain.MethodCash), "manual")

	s.log.Info("booking marked paid",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("actor", actor),
	)

	return b, nil
}

type RefundInput struct {
	BookingID uuid.UUID
	Actor     string
	// Amount returned to the customer. Zero means the full total.
	Amount int64
	Reason string
}

// RecordRefund notes that the payment collaborator has returned money for a
// paid booking.
func (s *Service) RecordRefund(ctx context.Context, in RefundInput) (*domain.Booking, error) {
	const op = "service.payment.RecordRefund"

	ctx, span := obs.Start(ctx, op, in.BookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	if in.Amount < 0 {
		err = fmt.Errorf("%s: negative amount: %w", op, domain.ErrInvalidArgument)
		return nil, err
	}

	var b *domain.Booking
	b, err = s.uow.Do(ctx, in.BookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		if cur.PaymentStatus != domain.PaymentPaid {
			return domain.ErrInvalidState
		}
		amount := in.Amount
		if amount == 0 {
			amount = cur.TotalPrice
		}
		if amount > cur.TotalPrice {
			return fmt.Errorf("refund exceeds total: %w", domain.ErrInvalidArgument)
		}

		now := s.clock.Now()
		cur.PaymentStatus = domain.PaymentRefunded
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventPaymentRefunded, cur, in.Actor, now)
		ev.Payload.Amount = amount
		ev.Payload.Reason = in.Reason
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("refund recorded",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("actor", in.Actor),
	)

	return b, nil
}

// BookingCompleted is notified by the lifecycle service after a booking is
// completed. It changes no state: completion is what makes a cash booking
// eligible for MarkPaid, so an unsettled completion is counted and logged
// for the settlement follow-up.
func (s *Service) BookingCompleted(_ context.Context, b *domain.Booking) {
	switch b.PaymentStatus {
	case domain.PaymentUnpaid, domain.PaymentPending, domain.PaymentFailed:
	default:
		return
	}

	metrics.RecordCompletedUnsettled(string(b.PaymentStatus), b.TotalPrice)
	s.log.Info("completed booking awaits settlement",
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("payment_status", string(b.PaymentStatus)),
		slog.Int64("total_price", b.TotalPrice),
	)
}
