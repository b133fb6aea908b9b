package domain

import "time"

const (
	FullRefundNotice = 24 * time.Hour
	HalfRefundNotice = 12 * time.Hour
)

// RefundQuote is the refund eligibility computed when a booking is
// cancelled. The engine only surfaces it; moving money belongs to the
// payment collaborator.
type RefundQuote struct {
	Percent      int           `json:"percent"`
	Amount       int64         `json:"amount"`
	Notice       time.Duration `json:"noticeNs"`
	ScheduledFor time.Time     `json:"scheduledFor"`
}

// RefundPercent maps the notice given before the scheduled start to the
// refund tier: at least 24h is 100, at least 12h is 50, anything less is 0.
func RefundPercent(now, scheduledStart time.Time) int {
	notice := scheduledStart.Sub(now)
	switch {
	case notice >= FullRefundNotice:
		return 100
	case notice >= HalfRefundNotice:
		return 50
	default:
		return 0
	}
}

// QuoteRefund computes the refund tier for cancelling at now. Only money
// actually captured is refundable, so unpaid bookings get a zero amount with
// the tier still reported.
func QuoteRefund(now, scheduledStart time.Time, paid PaymentStatus, total int64) RefundQuote {
	percent := RefundPercent(now, scheduledStart)
	q := RefundQuote{
		Percent:      percent,
		Notice:       scheduledStart.Sub(now),
		ScheduledFor: scheduledStart,
	}
	if paid == PaymentPaid {
		q.Amount = total * int64(percent) / 100
	}
	return q
}
