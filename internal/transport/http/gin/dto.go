package httpgin

import (
	"fmt"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type CreateBookingRequest struct {
	CustomerID    string  `json:"customerId" binding:"required,uuid"`
	CustomerName  string  `json:"customerName" binding:"required,max=200"`
	ServiceID     string  `json:"serviceId" binding:"required,uuid"`
	ServiceName   string  `json:"serviceName" binding:"required,max=200"`
	ScheduledDate string  `json:"scheduledDate" binding:"required,datetime=2006-01-02"`
	StartTime     string  `json:"scheduledStartTime" binding:"required,hhmm"`
	EndTime       *string `json:"scheduledEndTime" binding:"omitempty,hhmm"`
	PaymentMethod *string `json:"paymentMethod" binding:"omitempty,payment_method"`
	Subtotal      int64   `json:"subtotal" binding:"gte=0"`
	Discount      int64   `json:"discount" binding:"gte=0"`
	Tax           int64   `json:"tax" binding:"gte=0"`
}

type TransitionRequest struct {
	Status string `json:"status" binding:"required,booking_status"`
	Reason string `json:"reason" binding:"max=500"`
	// The new slot, only with status rescheduled.
	ScheduledDate *string `json:"scheduledDate" binding:"omitempty,datetime=2006-01-02"`
	StartTime     *string `json:"scheduledStartTime" binding:"omitempty,hhmm"`
	EndTime       *string `json:"scheduledEndTime" binding:"omitempty,hhmm"`
}

type AssignStaffRequest struct {
	StaffIDs []string `json:"staffIds" binding:"dive,uuid"`
	Notes    *string  `json:"notes" binding:"omitempty,max=500"`
}

type PricingRequest struct {
	Subtotal int64 `json:"subtotal" binding:"gte=0"`
	Discount int64 `json:"discount" binding:"gte=0"`
	Tax      int64 `json:"tax" binding:"gte=0"`
}

type InitiatePaymentRequest struct {
	Method string `json:"method" binding:"required,payment_method"`
}

type ReconcileRequest struct {
	ResponseCode string `json:"responseCode" binding:"max=16"`
	ResultStatus string `json:"resultStatus" binding:"required,oneof=pending success failure"`
}

type RefundRequest struct {
	Amount int64  `json:"amount" binding:"gte=0"`
	Reason string `json:"reason" binding:"max=500"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type TransitionResponse struct {
	Booking *domain.Booking     `json:"booking"`
	Refund  *domain.RefundQuote `json:"refund,omitempty"`
}

type AssignmentResponse struct {
	BookingID     uuid.UUID                `json:"bookingId"`
	AssignedStaff []domain.StaffAssignment `json:"assignedStaff"`
}

type PaymentResponse struct {
	AttemptID     uuid.UUID            `json:"attemptId"`
	TxnRef        string               `json:"gatewayTxnRef"`
	RedirectURL   string               `json:"redirectUrl,omitempty"`
	Amount        int64                `json:"amount"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	Reused        bool                 `json:"reused"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
}

type ReconcileResponse struct {
	Booking *domain.Booking       `json:"booking"`
	Attempt domain.PaymentAttempt `json:"attempt"`
	Applied bool                  `json:"applied"`
}

// IPNResponse is the acknowledgement format the VNPay server expects.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrInvalidArgument)
	}
	return t, nil
}

func parseUUIDs(in []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", s, domain.ErrInvalidArgument)
		}
		out = append(out, id)
	}
	return out, nil
}
