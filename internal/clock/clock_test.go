package clock

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingCode(t *testing.T) {
	now := time.Unix(1_700_123_456, 0)

	code, err := BookingCode(now)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^CH123456[A-Z0-9]{5}$`), code)
}

func TestBookingCode_PadsShortTimestamps(t *testing.T) {
	code, err := BookingCode(time.Unix(1_000_042, 0))
	require.NoError(t, err)

	assert.Equal(t, "CH000042", code[:8])
}

func TestFake(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestUUIDv7_Ordered(t *testing.T) {
	var g UUIDv7
	a := g.NewID()
	time.Sleep(2 * time.Millisecond)
	b := g.NewID()

	assert.Equal(t, 7, int(a.Version()))
	assert.Less(t, a.String(), b.String())
}
