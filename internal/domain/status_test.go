package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTableClosure(t *testing.T) {
	allowed := map[[2]BookingStatus]bool{
		{StatusPending, StatusConfirmed}:     true,
		{StatusPending, StatusCancelled}:     true,
		{StatusConfirmed, StatusInProgress}:  true,
		{StatusConfirmed, StatusCancelled}:   true,
		{StatusConfirmed, StatusRescheduled}: true,
		{StatusInProgress, StatusCompleted}:  true,
		{StatusInProgress, StatusCancelled}:  true,
		{StatusRescheduled, StatusConfirmed}: true,
		{StatusRescheduled, StatusCancelled}: true,
	}

	for _, from := range AllBookingStatuses() {
		for _, to := range AllBookingStatuses() {
			want := allowed[[2]BookingStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBookingStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRescheduled.IsTerminal())
	assert.False(t, BookingStatus("archived").IsValid())
}

func TestStatusEvent(t *testing.T) {
	assert.Equal(t, EventBookingStarted, StatusEvent(StatusInProgress))
	assert.Equal(t, EventBookingCompleted, StatusEvent(StatusCompleted))
	assert.Equal(t, EventBookingCancelled, StatusEvent(StatusCancelled))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeBookingLocked, CodeOf(ErrBookingLocked))
	assert.Equal(t, CodeAmountMismatch, CodeOf(wrap(wrap(ErrAmountMismatch))))
	assert.Equal(t, CodeInternal, CodeOf(assert.AnError))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

type wrapped struct{ err error }

func (w wrapped) Error() string { return "op: " + w.err.Error() }
func (w wrapped) Unwrap() error { return w.err }

func wrap(err error) error { return wrapped{err} }
