package domain

import "errors"

// ErrorCode is the stable, documented identifier of a rejection. Clients act
// on the code, never on the message.
type ErrorCode string

const (
	CodeNotFound             ErrorCode = "BOOKING_NOT_FOUND"
	CodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	CodeStaffRequired        ErrorCode = "STAFF_REQUIRED"
	CodeBookingLocked        ErrorCode = "BOOKING_LOCKED"
	CodeEmptyAssignment      ErrorCode = "EMPTY_ASSIGNMENT"
	CodeUnknownStaff         ErrorCode = "UNKNOWN_STAFF"
	CodeStaffUnavailable     ErrorCode = "STAFF_UNAVAILABLE"
	CodeInvalidPaymentState  ErrorCode = "INVALID_PAYMENT_STATE"
	CodeAmountMismatch       ErrorCode = "AMOUNT_MISMATCH"
	CodeUnknownAttempt       ErrorCode = "UNKNOWN_ATTEMPT"
	CodeNotEligible          ErrorCode = "NOT_ELIGIBLE"
	CodeCancelReasonRequired ErrorCode = "CANCEL_REASON_REQUIRED"
	CodeInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	CodeInvalidSignature     ErrorCode = "INVALID_SIGNATURE"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeInternal             ErrorCode = "INTERNAL"
)

type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "booking not found"}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrStaffRequired        = &Error{Code: CodeStaffRequired, Message: "booking has no assigned staff"}
	ErrBookingLocked        = &Error{Code: CodeBookingLocked, Message: "booking is completed or cancelled"}
	ErrEmptyAssignment      = &Error{Code: CodeEmptyAssignment, Message: "staff set is empty"}
	ErrUnknownStaff         = &Error{Code: CodeUnknownStaff, Message: "unknown staff member"}
	ErrStaffUnavailable     = &Error{Code: CodeStaffUnavailable, Message: "staff member is not active"}
	ErrInvalidState         = &Error{Code: CodeInvalidPaymentState, Message: "payment status does not allow this operation"}
	ErrAmountMismatch       = &Error{Code: CodeAmountMismatch, Message: "attempt amount differs from booking total"}
	ErrUnknownAttempt       = &Error{Code: CodeUnknownAttempt, Message: "payment attempt not found"}
	ErrNotEligible          = &Error{Code: CodeNotEligible, Message: "booking is not eligible for manual payment"}
	ErrCancelReasonRequired = &Error{Code: CodeCancelReasonRequired, Message: "cancellation requires a reason"}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidSignature     = &Error{Code: CodeInvalidSignature, Message: "invalid gateway signature"}
	ErrRateLimited          = &Error{Code: CodeRateLimited, Message: "rate limited"}
)

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
