// Package lifecycle is the single authority for booking status changes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/metrics"
	"github.com/cleanhome/bookingd/internal/obs"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
)

// CompletionListener is told about every booking that reached completed.
// It runs after commit, outside the booking lock.
type CompletionListener interface {
	BookingCompleted(ctx context.Context, b *domain.Booking)
}

type Config struct {
	// Location interprets scheduled dates and start times for refund tiers.
	Location *time.Location
}

type Service struct {
	uow       *uow.UoW
	clock     clock.Clock
	ids       clock.IDGen
	log       *slog.Logger
	cfg       Config
	listeners []CompletionListener
}

func New(u *uow.UoW, clk clock.Clock, ids clock.IDGen, log *slog.Logger, cfg Config, listeners ...CompletionListener) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Service{
		uow:       u,
		clock:     clk,
		ids:       ids,
		log:       log,
		cfg:       cfg,
		listeners: listeners,
	}
}

// Schedule is a new slot for a booking moved to rescheduled.
type Schedule struct {
	Date      time.Time
	StartTime string
	EndTime   *string
}

type TransitionInput struct {
	BookingID uuid.UUID
	Target    domain.BookingStatus
	Actor     string
	Reason    string
	// Schedule is only accepted with target rescheduled.
	Schedule *Schedule
}

type Result struct {
	Booking *domain.Booking
	// Refund is set when the booking was cancelled.
	Refund *domain.RefundQuote
}

// Transition moves a booking to in.Target.
//
// Returns:
//   - domain.ErrNotFound if the booking does not exist.
//   - domain.ErrInvalidTransition if the edge is not in the transition table.
//   - domain.ErrCancelReasonRequired when cancelling without a reason.
//   - domain.ErrStaffRequired when completing a booking nobody is assigned to.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (Result, error) {
	const op = "service.lifecycle.Transition"

	ctx, span := obs.Start(ctx, op, in.BookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	if !in.Target.IsValid() {
		err = fmt.Errorf("%s: unknown status %q: %w", op, in.Target, domain.ErrInvalidArgument)
		return Result{}, err
	}
	if in.Schedule != nil && in.Target != domain.StatusRescheduled {
		err = fmt.Errorf("%s: schedule only applies to rescheduled: %w", op, domain.ErrInvalidArgument)
		return Result{}, err
	}
	if in.Schedule != nil {
		if _, err = domain.ScheduledStart(in.Schedule.Date, in.Schedule.StartTime, s.cfg.Location); err != nil {
			err = fmt.Errorf("%s: %w", op, err)
			return Result{}, err
		}
	}

	var (
		from   domain.BookingStatus
		refund *domain.RefundQuote
	)

	b, err := s.uow.Do(ctx, in.BookingID, func(m *repository.Mutation, after func(uow.AfterCommit)) error {
		refund = nil
		cur := m.Booking
		from = cur.Status

		if !cur.Status.CanTransitionTo(in.Target) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()

		switch in.Target {
		case domain.StatusCancelled:
			reason := strings.TrimSpace(in.Reason)
			if reason == "" {
				return domain.ErrCancelReasonRequired
			}

			start, err := cur.ScheduledStart(s.cfg.Location)
			if err != nil {
				return err
			}
			q := domain.QuoteRefund(now, start, cur.PaymentStatus, cur.TotalPrice)
			refund = &q

			actor := in.Actor
			cur.CancelReason = &reason
			cur.CancelledBy = &actor
			cur.CancelledAt = &now

			// Nothing was captured, so an open or failed payment falls back
			// to unpaid.
			if cur.PaymentStatus == domain.PaymentPending || cur.PaymentStatus == domain.PaymentFailed {
				cur.PaymentStatus = domain.PaymentUnpaid
			}

		case domain.StatusCompleted:
			if len(cur.AssignedStaff) == 0 {
				return domain.ErrStaffRequired
			}
			cur.CompletedAt = &now
			cur.CancelReason = nil

		case domain.StatusRescheduled:
			if sch := in.Schedule; sch != nil {
				y, mo, d := sch.Date.Date()
				cur.ScheduledDate = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
				cur.ScheduledStartTime = sch.StartTime
				cur.ScheduledEndTime = sch.EndTime
			}
			cur.CancelReason = nil

		default:
			cur.CancelReason = nil
		}

		cur.Status = in.Target
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.StatusEvent(in.Target), cur, in.Actor, now)
		ev.Payload.FromStatus = from
		ev.Payload.StaffIDs = cur.StaffIDs()
		if cur.CancelReason != nil {
			ev.Payload.Reason = *cur.CancelReason
		}
		ev.Payload.Refund = refund
		m.Emit(ev)

		if in.Target == domain.StatusCompleted {
			completed := cur.Clone()
			after(func(ctx context.Context) {
				for _, l := range s.listeners {
					l.BookingCompleted(ctx, completed)
				}
			})
		}

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		metrics.RecordTransition(string(from), string(in.Target), string(domain.CodeOf(err)))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordTransition(string(from), string(in.Target), "ok")

	attrs := []any{
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.String("from", string(from)),
		slog.String("to", string(in.Target)),
		slog.String("actor", in.Actor),
	}
	if refund != nil {
		attrs = append(attrs, slog.Int("refund_percent", refund.Percent))
	}
	s.log.Info("booking status changed", attrs...)

	return Result{Booking: b, Refund: refund}, nil
}
