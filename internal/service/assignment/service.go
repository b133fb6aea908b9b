// Package assignment attaches staff to bookings with full-replace semantics.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleanhome/bookingd/internal/clock"
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/metrics"
	"github.com/cleanhome/bookingd/internal/obs"
	"github.com/cleanhome/bookingd/internal/repository"
	"github.com/cleanhome/bookingd/internal/uow"
	"github.com/google/uuid"
)

// Roster validates a staff set. It returns domain.ErrUnknownStaff or
// domain.ErrStaffUnavailable for a set that cannot be assigned.
type Roster interface {
	Check(ctx context.Context, ids []uuid.UUID) error
}

type Service struct {
	uow    *uow.UoW
	roster Roster
	clock  clock.Clock
	ids    clock.IDGen
	log    *slog.Logger
}

func New(u *uow.UoW, roster Roster, clk clock.Clock, ids clock.IDGen, log *slog.Logger) *Service {
	return &Service{uow: u, roster: roster, clock: clk, ids: ids, log: log}
}

type AssignInput struct {
	BookingID uuid.UUID
	StaffIDs  []uuid.UUID
	Actor     string
	// Notes, when set, replaces the notes of every resulting assignment.
	Notes *string
}

// Assign makes the booking's staff set exactly in.StaffIDs. Staff already on
// the booking keep their original assignedAt and assignedBy.
//
// Errors are checked in this order: domain.ErrNotFound,
// domain.ErrBookingLocked, domain.ErrEmptyAssignment, domain.ErrUnknownStaff,
// domain.ErrStaffUnavailable.
func (s *Service) Assign(ctx context.Context, in AssignInput) ([]domain.StaffAssignment, error) {
	const op = "service.assignment.Assign"

	ctx, span := obs.Start(ctx, op, in.BookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	ids := dedupe(in.StaffIDs)

	// The roster is consulted before taking the booking lock. Its verdict is
	// reported only after the booking-level checks so the error order holds.
	var rosterErr error
	if len(ids) > 0 {
		rosterErr = s.roster.Check(ctx, ids)
		if rosterErr != nil && domain.CodeOf(rosterErr) == domain.CodeInternal {
			err = fmt.Errorf("%s: %w", op, rosterErr)
			return nil, err
		}
	}

	b, err := s.uow.Do(ctx, in.BookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		if cur.Locked() {
			return domain.ErrBookingLocked
		}
		if len(ids) == 0 {
			return domain.ErrEmptyAssignment
		}
		if rosterErr != nil {
			return rosterErr
		}

		if sameSet(cur.AssignedStaff, ids) && !notesChange(cur.AssignedStaff, in.Notes) {
			return nil
		}

		now := s.clock.Now()
		cur.AssignedStaff = replace(cur.AssignedStaff, ids, in.Actor, in.Notes, now)
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventStaffAssigned, cur, in.Actor, now)
		ev.Payload.StaffIDs = cur.StaffIDs()
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		metrics.RecordAssignment("assign", string(domain.CodeOf(err)))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordAssignment("assign", "ok")

	s.log.Info("staff assigned",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("booking_code", b.BookingCode),
		slog.Int("staff_count", len(b.AssignedStaff)),
		slog.String("actor", in.Actor),
	)

	return b.AssignedStaff, nil
}

// Unassign clears every staff assignment of the booking.
func (s *Service) Unassign(ctx context.Context, bookingID uuid.UUID, actor string) (*domain.Booking, error) {
	const op = "service.assignment.Unassign"

	ctx, span := obs.Start(ctx, op, bookingID.String())
	var err error
	defer func() { obs.End(span, err) }()

	var b *domain.Booking
	b, err = s.uow.Do(ctx, bookingID, func(m *repository.Mutation, _ func(uow.AfterCommit)) error {
		cur := m.Booking
		if cur.Locked() {
			return domain.ErrBookingLocked
		}
		if len(cur.AssignedStaff) == 0 {
			return nil
		}

		removed := cur.StaffIDs()
		now := s.clock.Now()
		cur.AssignedStaff = []domain.StaffAssignment{}
		cur.Touch(now)

		ev := domain.NewEvent(s.ids.NewID(), domain.EventStaffUnassigned, cur, actor, now)
		ev.Payload.StaffIDs = removed
		m.Emit(ev)

		return nil
	})
	if err != nil {
		err = repository.BookingErr(err)
		metrics.RecordAssignment("unassign", string(domain.CodeOf(err)))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordAssignment("unassign", "ok")

	s.log.Info("staff unassigned",
		slog.String("op", op),
		slog.String("booking_id", b.ID.String()),
		slog.String("actor", actor),
	)

	return b, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameSet(cur []domain.StaffAssignment, ids []uuid.UUID) bool {
	if len(cur) != len(ids) {
		return false
	}
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, a := range cur {
		if _, ok := want[a.StaffID]; !ok {
			return false
		}
	}
	return true
}

func notesChange(cur []domain.StaffAssignment, notes *string) bool {
	if notes == nil {
		return false
	}
	for _, a := range cur {
		if a.Notes == nil || *a.Notes != *notes {
			return true
		}
	}
	return false
}

// replace builds the new assignment list in the requested order.
func replace(cur []domain.StaffAssignment, ids []uuid.UUID, actor string, notes *string, now time.Time) []domain.StaffAssignment {
	existing := make(map[uuid.UUID]domain.StaffAssignment, len(cur))
	for _, a := range cur {
		existing[a.StaffID] = a
	}

	out := make([]domain.StaffAssignment, 0, len(ids))
	for _, id := range ids {
		a, ok := existing[id]
		if !ok {
			a = domain.StaffAssignment{StaffID: id, AssignedAt: now, AssignedBy: actor}
		}
		if notes != nil {
			n := *notes
			a.Notes = &n
		}
		out = append(out, a)
	}
	return out
}
