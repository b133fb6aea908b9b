package httpgin

import (
	"errors"
	"net/http"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/gin-gonic/gin"
)

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeNotFound:             http.StatusNotFound,
	domain.CodeInvalidTransition:    http.StatusConflict,
	domain.CodeStaffRequired:        http.StatusConflict,
	domain.CodeBookingLocked:        http.StatusConflict,
	domain.CodeEmptyAssignment:      http.StatusUnprocessableEntity,
	domain.CodeUnknownStaff:         http.StatusUnprocessableEntity,
	domain.CodeStaffUnavailable:     http.StatusConflict,
	domain.CodeInvalidPaymentState:  http.StatusConflict,
	domain.CodeAmountMismatch:       http.StatusConflict,
	domain.CodeUnknownAttempt:       http.StatusNotFound,
	domain.CodeNotEligible:          http.StatusConflict,
	domain.CodeCancelReasonRequired: http.StatusUnprocessableEntity,
	domain.CodeInvalidArgument:      http.StatusBadRequest,
	domain.CodeInvalidSignature:     http.StatusUnauthorized,
	domain.CodeRateLimited:          http.StatusTooManyRequests,
}

// StatusOf maps an error to its HTTP status. Errors without a domain code
// are internal.
func StatusOf(err error) int {
	if s, ok := statusByCode[domain.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	code := domain.CodeOf(err)
	status := StatusOf(err)

	msg := publicMessage(err)
	if status == http.StatusInternalServerError {
		// Internal details go to the access log, not to the client.
		_ = c.Error(err)
		msg = "internal error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Code: string(code), Error: msg})
}

// publicMessage is the message of the domain error itself, without the
// operation prefixes wrapped around it.
func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:  string(domain.CodeInvalidArgument),
		Error: msg,
	})
}
