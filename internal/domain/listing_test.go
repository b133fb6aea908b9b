package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStaffFilter(t *testing.T) {
	f, err := ParseStaffFilter("")
	require.NoError(t, err)
	assert.Equal(t, StaffFilter{}, f)

	f, err = ParseStaffFilter("unassigned")
	require.NoError(t, err)
	assert.True(t, f.Unassigned)
	assert.Nil(t, f.StaffID)

	id := uuid.New()
	f, err = ParseStaffFilter(id.String())
	require.NoError(t, err)
	require.NotNil(t, f.StaffID)
	assert.Equal(t, id, *f.StaffID)
	assert.False(t, f.Unassigned)

	_, err = ParseStaffFilter("bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestListFilter_Matches(t *testing.T) {
	staff := uuid.New()
	b := &Booking{
		BookingCode:  "CH123456QWERT",
		CustomerName: "Nguyen Van An",
		ServiceName:  "Deep Clean",
		Status:       StatusConfirmed,
		AssignedStaff: []StaffAssignment{
			{StaffID: staff},
		},
	}
	confirmed := StatusConfirmed
	pending := StatusPending
	other := uuid.New()

	assert.True(t, ListFilter{}.Matches(b))
	assert.True(t, ListFilter{Status: &confirmed}.Matches(b))
	assert.False(t, ListFilter{Status: &pending}.Matches(b))
	assert.True(t, ListFilter{Staff: StaffFilter{StaffID: &staff}}.Matches(b))
	assert.False(t, ListFilter{Staff: StaffFilter{StaffID: &other}}.Matches(b))
	assert.False(t, ListFilter{Staff: StaffFilter{Unassigned: true}}.Matches(b))
	assert.True(t, ListFilter{SearchTerm: "van an"}.Matches(b))
	assert.True(t, ListFilter{SearchTerm: "ch1234"}.Matches(b))
	assert.True(t, ListFilter{SearchTerm: "DEEP"}.Matches(b))
	assert.False(t, ListFilter{SearchTerm: "window"}.Matches(b))
}

func TestTotalPagesAndOrder(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 20))
	assert.Equal(t, 1, TotalPages(20, 20))
	assert.Equal(t, 2, TotalPages(21, 20))

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	older := &Booking{ID: uuid.New(), CreatedAt: now}
	newer := &Booking{ID: uuid.New(), CreatedAt: now.Add(time.Second)}
	assert.True(t, Before(newer, older))
	assert.False(t, Before(older, newer))

	a := &Booking{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), CreatedAt: now}
	b := &Booking{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), CreatedAt: now}
	assert.True(t, Before(a, b))
	assert.Equal(t, 20, ListQuery{Page: 2, PageSize: 20}.Offset())
	assert.Equal(t, 0, ListQuery{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, math.MaxInt, ListQuery{Page: math.MaxInt / 50, PageSize: 100}.Offset())
	assert.Equal(t, math.MaxInt, ListQuery{Page: math.MaxInt, PageSize: 2}.Offset())
}
