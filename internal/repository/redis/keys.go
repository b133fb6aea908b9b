package redisrepo

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "bookingd:v1"

// KeyBookingGen holds the cache generation of a booking.
func KeyBookingGen(id uuid.UUID) string {
	return fmt.Sprintf("%s:booking:%s:gen", ns, id)
}

func KeyBookingView(id uuid.UUID, gen int64, view string) string {
	return fmt.Sprintf("%s:booking:%s:g%d:%s", ns, id, gen, view)
}

func KeyStaff(id uuid.UUID) string {
	return fmt.Sprintf("%s:staff:%s", ns, id)
}

func KeyIdemCreateBooking(actor, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%s:%s", ns, actor, idemKey)
}

func KeyPaymentRate(bookingID uuid.UUID) string {
	return fmt.Sprintf("%s:rl:pay:%s", ns, bookingID)
}

func KeyPaymentRateCaller(bookingID uuid.UUID, caller string) string {
	return fmt.Sprintf("%s:rl:pay:%s:%s", ns, bookingID, caller)
}

func ChannelBookingChanges() string {
	return ns + ":bookings:changed"
}
