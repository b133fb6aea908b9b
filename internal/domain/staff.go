package domain

import "github.com/google/uuid"

type StaffStatus string

const (
	StaffActive   StaffStatus = "active"
	StaffInactive StaffStatus = "inactive"
	StaffLocked   StaffStatus = "locked"
	StaffPending  StaffStatus = "pending"
)

type Staff struct {
	ID     uuid.UUID   `json:"id"`
	Name   string      `json:"name"`
	Status StaffStatus `json:"status"`
}

// Assignable reports whether the staff member may be put on a booking.
func (s Staff) Assignable() bool {
	return s.Status == StaffActive
}
