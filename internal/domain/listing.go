package domain

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// StaffUnassigned is the reserved staff filter value selecting bookings with
// no staff at all.
const StaffUnassigned = "unassigned"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// StaffFilter is either empty, the unassigned marker, or a concrete staff id.
type StaffFilter struct {
	Unassigned bool
	StaffID    *uuid.UUID
}

func ParseStaffFilter(s string) (StaffFilter, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return StaffFilter{}, nil
	case StaffUnassigned:
		return StaffFilter{Unassigned: true}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return StaffFilter{}, ErrInvalidArgument
	}
	return StaffFilter{StaffID: &id}, nil
}

type ListFilter struct {
	Status     *BookingStatus
	Staff      StaffFilter
	SearchTerm string
}

type ListQuery struct {
	Filter   ListFilter
	Page     int
	PageSize int
}

// Offset is the zero-based index of the first item on the page. It
// saturates at math.MaxInt, so a page too far out to address lands past the
// end of any result set.
func (q ListQuery) Offset() int {
	if q.Page <= 1 || q.PageSize <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

type Page struct {
	Items      []Booking `json:"items"`
	TotalCount int       `json:"totalCount"`
	TotalPages int       `json:"totalPages"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
}

// TotalPages is ceil(total / size).
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Matches applies f to b in memory with the same semantics as the SQL
// listing: status equality, staff membership or emptiness, and a
// case-insensitive substring search over customer name, booking code and
// service name.
func (f ListFilter) Matches(b *Booking) bool {
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	if f.Staff.Unassigned && len(b.AssignedStaff) > 0 {
		return false
	}
	if f.Staff.StaffID != nil && !b.HasStaff(*f.Staff.StaffID) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.SearchTerm)); term != "" {
		if !strings.Contains(strings.ToLower(b.CustomerName), term) &&
			!strings.Contains(strings.ToLower(b.BookingCode), term) &&
			!strings.Contains(strings.ToLower(b.ServiceName), term) {
			return false
		}
	}
	return true
}

// Before reports whether a sorts ahead of b in listings: newest first, ties
// broken by id so the order is total.
func Before(a, b *Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) > 0
}
