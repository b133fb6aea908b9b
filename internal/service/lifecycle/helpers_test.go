package lifecycle_test

import (
	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/cleanhome/bookingd/internal/service/payment"
	"github.com/google/uuid"
)

func paymentInput(id uuid.UUID) payment.InitiateInput {
	return payment.InitiateInput{BookingID: id, Method: domain.MethodGateway, Actor: "customer"}
}
