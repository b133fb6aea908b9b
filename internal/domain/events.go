package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBookingCreated     EventType = "booking.created"
	EventBookingRepriced    EventType = "booking.repriced"
	EventBookingConfirmed   EventType = "booking.confirmed"
	EventBookingStarted     EventType = "booking.started"
	EventBookingCompleted   EventType = "booking.completed"
	EventBookingCancelled   EventType = "booking.cancelled"
	EventBookingRescheduled EventType = "booking.rescheduled"
	EventStaffAssigned      EventType = "staff.assigned"
	EventStaffUnassigned    EventType = "staff.unassigned"
	EventPaymentInitiated   EventType = "payment.initiated"
	EventPaymentSucceeded   EventType = "payment.succeeded"
	EventPaymentFailed      EventType = "payment.failed"
	EventAttemptResolved    EventType = "payment.attempt_resolved"
	EventPaymentMarkedPaid  EventType = "payment.marked_paid"
	EventPaymentRefunded    EventType = "payment.refunded"
)

// StatusEvent maps the target of a transition to its event type.
func StatusEvent(to BookingStatus) EventType {
	switch to {
	case StatusConfirmed:
		return EventBookingConfirmed
	case StatusInProgress:
		return EventBookingStarted
	case StatusCompleted:
		return EventBookingCompleted
	case StatusCancelled:
		return EventBookingCancelled
	case StatusRescheduled:
		return EventBookingRescheduled
	}
	return EventType("booking." + string(to))
}

// Event is a domain event emitted once per successful mutation.
type Event struct {
	ID         uuid.UUID    `json:"id"`
	Type       EventType    `json:"type"`
	BookingID  uuid.UUID    `json:"bookingId"`
	Actor      string       `json:"actor,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
	Payload    EventPayload `json:"payload"`
}

type EventPayload struct {
	BookingCode   string        `json:"bookingCode"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	TotalPrice    int64         `json:"totalPrice"`
	FromStatus    BookingStatus `json:"fromStatus,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Refund        *RefundQuote  `json:"refund,omitempty"`
	StaffIDs      []uuid.UUID   `json:"staffIds,omitempty"`
	AttemptID     *uuid.UUID    `json:"attemptId,omitempty"`
	ResponseCode  string        `json:"responseCode,omitempty"`
	Amount        int64         `json:"amount,omitempty"`
	PreviousTotal int64         `json:"previousTotal,omitempty"`
}

// NewEvent builds an event carrying b's post-mutation state.
func NewEvent(id uuid.UUID, typ EventType, b *Booking, actor string, at time.Time) Event {
	return Event{
		ID:         id,
		Type:       typ,
		BookingID:  b.ID,
		Actor:      actor,
		OccurredAt: at,
		Payload: EventPayload{
			BookingCode:   b.BookingCode,
			Status:        b.Status,
			PaymentStatus: b.PaymentStatus,
			TotalPrice:    b.TotalPrice,
		},
	}
}
