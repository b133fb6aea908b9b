package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Booking is the aggregate root of the engine. It is mutated only through the
// lifecycle, assignment and payment services, and never deleted.
type Booking struct {
	ID                 uuid.UUID         `json:"id"`
	BookingCode        string            `json:"bookingCode"`
	CustomerID         uuid.UUID         `json:"customerId"`
	CustomerName       string            `json:"customerName"`
	ServiceID          uuid.UUID         `json:"serviceId"`
	ServiceName        string            `json:"serviceName"`
	ScheduledDate      time.Time         `json:"scheduledDate"`
	ScheduledStartTime string            `json:"scheduledStartTime"`
	ScheduledEndTime   *string           `json:"scheduledEndTime,omitempty"`
	Status             BookingStatus     `json:"status"`
	PaymentStatus      PaymentStatus     `json:"paymentStatus"`
	PaymentMethod      *PaymentMethod    `json:"paymentMethod,omitempty"`
	Subtotal           int64             `json:"subtotal"`
	Discount           int64             `json:"discount"`
	Tax                int64             `json:"tax"`
	TotalPrice         int64             `json:"totalPrice"`
	CancelReason       *string           `json:"cancelReason,omitempty"`
	CancelledBy        *string           `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	AssignedStaff      []StaffAssignment `json:"assignedStaff"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

type StaffAssignment struct {
	StaffID    uuid.UUID `json:"staffId"`
	AssignedAt time.Time `json:"assignedAt"`
	AssignedBy string    `json:"assignedBy"`
	Notes      *string   `json:"notes,omitempty"`
}

// Pricing holds the monetary inputs of a booking. Amounts are in the
// smallest currency unit.
type Pricing struct {
	Subtotal int64
	Discount int64
	Tax      int64
}

// Total validates p and returns subtotal - discount + tax.
func (p Pricing) Total() (int64, error) {
	if p.Subtotal < 0 || p.Discount < 0 || p.Tax < 0 {
		return 0, fmt.Errorf("amounts must be non-negative: %w", ErrInvalidArgument)
	}
	if p.Discount > p.Subtotal {
		return 0, fmt.Errorf("discount exceeds subtotal: %w", ErrInvalidArgument)
	}
	return p.Subtotal - p.Discount + p.Tax, nil
}

// ApplyPricing recomputes the totals of b from p.
func (b *Booking) ApplyPricing(p Pricing) error {
	total, err := p.Total()
	if err != nil {
		return err
	}
	b.Subtotal = p.Subtotal
	b.Discount = p.Discount
	b.Tax = p.Tax
	b.TotalPrice = total
	return nil
}

// Locked reports whether the booking no longer accepts staffing or pricing
// changes.
func (b *Booking) Locked() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled
}

func (b *Booking) HasStaff(id uuid.UUID) bool {
	for _, a := range b.AssignedStaff {
		if a.StaffID == id {
			return true
		}
	}
	return false
}

func (b *Booking) StaffIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.AssignedStaff))
	for _, a := range b.AssignedStaff {
		ids = append(ids, a.StaffID)
	}
	return ids
}

// Touch advances UpdatedAt and the version. UpdatedAt never moves backwards.
func (b *Booking) Touch(now time.Time) {
	if now.After(b.UpdatedAt) {
		b.UpdatedAt = now
	}
	b.Version++
}

// ScheduledStart resolves the scheduled date and HH:MM start time in loc.
func (b *Booking) ScheduledStart(loc *time.Location) (time.Time, error) {
	return ScheduledStart(b.ScheduledDate, b.ScheduledStartTime, loc)
}

func ScheduledStart(date time.Time, startTime string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	clock, err := time.Parse("15:04", startTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", startTime, ErrInvalidArgument)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Clone returns a deep copy so callers can mutate it without touching
// shared state.
func (b *Booking) Clone() *Booking {
	cp := *b
	cp.ScheduledEndTime = clonePtr(b.ScheduledEndTime)
	cp.PaymentMethod = clonePtr(b.PaymentMethod)
	cp.CancelReason = clonePtr(b.CancelReason)
	cp.CancelledBy = clonePtr(b.CancelledBy)
	cp.CancelledAt = clonePtr(b.CancelledAt)
	cp.CompletedAt = clonePtr(b.CompletedAt)
	cp.AssignedStaff = make([]StaffAssignment, len(b.AssignedStaff))
	for i, a := range b.AssignedStaff {
		a.Notes = clonePtr(a.Notes)
		cp.AssignedStaff[i] = a
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
