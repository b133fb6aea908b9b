package httpgin

import (
	"sync"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidators adds the booking-specific tags to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("booking_status", func(fl validator.FieldLevel) bool {
			return domain.BookingStatus(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
			return domain.PaymentMethod(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04", fl.Field().String())
			return err == nil
		})
	})
}
