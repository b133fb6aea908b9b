package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAttempt is one interaction with the payment gateway (or a cash
// settlement). The attempt row is immutable; its outcome is recorded once
// as a separate append-only result.
type PaymentAttempt struct {
	ID            uuid.UUID     `json:"attemptId"`
	BookingID     uuid.UUID     `json:"bookingId"`
	Method        PaymentMethod `json:"method"`
	GatewayTxnRef string        `json:"gatewayTxnRef"`
	RedirectURL   string        `json:"redirectUrl,omitempty"`
	Amount        int64         `json:"amount"`
	ResponseCode  string        `json:"responseCode,omitempty"`
	ResultStatus  AttemptResult `json:"resultStatus"`
	CreatedBy     string        `json:"createdBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	ResolvedAt    *time.Time    `json:"resolvedAt,omitempty"`
}

// AttemptOutcome is the append-only record that settles an attempt.
type AttemptOutcome struct {
	AttemptID    uuid.UUID
	ResponseCode string
	ResultStatus AttemptResult
	ResolvedAt   time.Time
}

func (a *PaymentAttempt) Resolved() bool {
	return a.ResultStatus.IsFinal()
}

// Expired reports whether a still-pending attempt has outlived its window.
func (a *PaymentAttempt) Expired(now time.Time) bool {
	return a.ResultStatus == ResultPending && !now.Before(a.ExpiresAt)
}

// Apply returns a copy of a with the outcome folded in.
func (a PaymentAttempt) Apply(o AttemptOutcome) PaymentAttempt {
	a.ResponseCode = o.ResponseCode
	a.ResultStatus = o.ResultStatus
	resolved := o.ResolvedAt
	a.ResolvedAt = &resolved
	return a
}

// LatestAttempt returns the most recently created attempt, or nil.
func LatestAttempt(attempts []PaymentAttempt) *PaymentAttempt {
	var latest *PaymentAttempt
	for i := range attempts {
		if latest == nil || !attempts[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &attempts[i]
		}
	}
	return latest
}

// FindAttempt returns the attempt with the given id, or nil.
func FindAttempt(attempts []PaymentAttempt, id uuid.UUID) *PaymentAttempt {
	for i := range attempts {
		if attempts[i].ID == id {
			return &attempts[i]
		}
	}
	return nil
}

// EffectivePaymentStatus is the stored payment status with lazy expiry
// applied: a pending status whose latest attempt is still unresolved past its
// deadline counts as failed.
func EffectivePaymentStatus(b *Booking, attempts []PaymentAttempt, now time.Time) PaymentStatus {
	if b.PaymentStatus != PaymentPending {
		return b.PaymentStatus
	}
	latest := LatestAttempt(attempts)
	if latest == nil || latest.Expired(now) {
		return PaymentFailed
	}
	return PaymentPending
}

// LivePendingAttempt returns the latest attempt if it is pending and not yet
// expired.
func LivePendingAttempt(attempts []PaymentAttempt, now time.Time) *PaymentAttempt {
	latest := LatestAttempt(attempts)
	if latest == nil || latest.ResultStatus != ResultPending || latest.Expired(now) {
		return nil
	}
	return latest
}
