package repository

import (
	"errors"
	"fmt"

	"github.com/cleanhome/bookingd/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrAlreadyResolved is returned when an outcome is recorded for an
	// attempt that already has one.
	ErrAlreadyResolved = errors.New("attempt already resolved")
)

// BookingErr maps a missing-row error from a booking lookup onto
// domain.ErrNotFound and leaves every other error untouched.
func BookingErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) && domain.CodeOf(err) == domain.CodeInternal {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
