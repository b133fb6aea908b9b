// Package booking creates bookings and edits their pricing.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/obs"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
)

const maxCodeAttempts = 5

type Service struct {
	uow   *uow.UoW
	clock clock.Clock
	ids   clock.IDGen
	log   *slog.Logger
	code  func(time.Time) (string, error)
}

func New(u *uow.UoW, clk clock.Clock, ids clock.IDGen, log *slog.Logger) *Service {
	return &Service{
		uow:   u,
		clock: clk,
		ids:   ids,
		log:   log,
		code:  clock.BookingCode,
	}
}

type CreateInput struct {
	CustomerID    uuid.UUID
	CustomerName  string
	ServiceID     uuid.UUID
	ServiceName   string
	ScheduledDate time.Time
	StartTime     string
	EndTime       *string
	PaymentMethod *domain.PaymentMethod
	Pricing       domain.Pricing
	Actor         string
}

func (in CreateInput) validate() error {
	if in.CustomerID == uuid.Nil || in.ServiceID == uuid.Nil {
		return fmt.Errorf("customer and service are required: %w", domain.ErrInvalidArgument)
	}
	if in.ScheduledDate.IsZero() {
		return fmt.Errorf("scheduled date is required: %w", domain.ErrInvalidArgument)
	}
	start, err := time.Parse("15:04", in.StartTime)
	if err != nil {
		return fmt.Errorf("start time must be HH:MM: %w", domain.ErrInvalidArgument)
	}
	if in.EndTime != nil {
		end, err := time.Parse("15:04", *in.EndTime)
		if err != nil {
			return fmt.Errorf("end time must be HH:MM: %w", domain.ErrInvalidArgument)
		}
		if !end.After(start) {
			return fmt.Errorf("end time must be after start time: %w", domain.ErrInvalidArgument)
		}
	}
	if in.PaymentMethod != nil && !in.PaymentMethod.IsValid() {
		return fmt.Errorf("unknown payment method %q: %w", *in.PaymentMethod, domain.ErrInvalidArgument)
	}
	return nil
}

// Create stores a new booking in pending/unpaid with a fresh booking code.
//
// Returns:
//   - *domain.Booking: the stored booking.
//   - error: domain.ErrInvalidArgument when the input or the pricing is invalid.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	const op = "service.booking.Create"

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock.Now()
	y, m, d := in.ScheduledDate.Date()

	b := &domain.Booking{
		ID:                 s.ids.NewID(),
		CustomerID:         in.CustomerID,
		CustomerName:       strings.TrimSpace(in.CustomerName),
		ServiceID:          in.ServiceID,
		ServiceName:        strings.TrimSpace(in.ServiceName),
		ScheduledDate:      time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		ScheduledStartTime: in.StartTime,
		ScheduledEndTime:   in.EndTime,
		Status:             domain.StatusPending,
		PaymentStatus:      domain.PaymentUnpaid,
		PaymentMethod:      in.PaymentMethod,
		AssignedStaff:      []domain.StaffAssignment{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := b.ApplyPricing(in.Pricing); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, span := obs.Start(ctx, op, b.ID.String())
	var err error
	defer func() { obs.End(span, err) }()

	for range maxCodeAttempts {
		b.BookingCode, err = s.code(now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		ev := domain.NewEvent(s.ids.NewID(), domain.EventBookingCreated, b, in.Actor, now)
		err = s.uow.Create(ctx, b, ev)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: booking code collisions: %w", op, err)
	}

	s.log.Info("booking created",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.Int64("total_price", b.TotalPrice),
	)

	return b, nil
}

// Reprice replaces the monetary inputs of a booking and recomputes its
// total. Terminal bookings are locked, and settled payments freeze the
// price.
func (s *Service) Reprice(ctx context.Context, id uuid.UUID, p domain.Pricing, actor string) (*domain.Booking, error) {
	const op = "service.booking.Reprice"

	ctx, span := obs.Start(ctx, op, id.String())
	var err error
	defer func() { obs.End(span, err) }()

	if _, err = p.Total(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var b *domain.Booking
	b, err = s.uow.Do(ctx, id, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		if cur.Locked() {
			return domain.ErrBookingLocked
		}
		if cur.PaymentStatus == domain.PaymentPaid || cur.PaymentStatus == domain.PaymentRefunded {
			return domain.ErrInvalidState
		}

		if cur.Subtotal == p.Subtotal && cur.Discount == p.Discount && cur.Tax == p.Tax {
			return nil
		}

		prev := cur.TotalPrice
		if err := cur.ApplyPricing(p); err != nil {
			return err
		}

		now := s.clock.Now()
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventBookingRepriced, cur, actor, now)
		ev.Payload.PreviousTotal = prev
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("booking repriced",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.Int64("total_price", b.TotalPrice),
	)

	return b, nil
}
