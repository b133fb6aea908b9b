package domain

type BookingStatus string

const (
	StatusPending     BookingStatus = "pending"
	StatusConfirmed   BookingStatus = "confirmed"
	StatusInProgress  BookingStatus = "in_progress"
	StatusCompleted   BookingStatus = "completed"
	StatusCancelled   BookingStatus = "cancelled"
	StatusRescheduled BookingStatus = "rescheduled"
)

// transitions is the complete set of legal status edges. Any pair not listed
// here is rejected.
var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed:   {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusRescheduled: {StatusConfirmed, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

func (s BookingStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from s.
func (s BookingStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return !ok || len(next) == 0
}

// AllBookingStatuses lists every status in declaration order.
func AllBookingStatuses() []BookingStatus {
	return []BookingStatus{
		StatusPending,
		StatusConfirmed,
		StatusInProgress,
		StatusCompleted,
		StatusCancelled,
		StatusRescheduled,
	}
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentUnpaid, PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodEWallet      PaymentMethod = "e_wallet"
	MethodGateway      PaymentMethod = "gateway"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCreditCard, MethodEWallet, MethodGateway:
		return true
	}
	return false
}

type AttemptResult string

const (
	ResultPending AttemptResult = "pending"
	ResultSuccess AttemptResult = "success"
	ResultFailure AttemptResult = "failure"
)

func (r AttemptResult) IsValid() bool {
	switch r {
	case ResultPending, ResultSuccess, ResultFailure:
		return true
	}
	return false
}

// IsFinal reports whether r settles an attempt.
func (r AttemptResult) IsFinal() bool {
	return r == ResultSuccess || r == ResultFailure
}
