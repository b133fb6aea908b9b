// Package gateway defines the boundary with external payment gateways.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/google/uuid"
)

// Request describes the payment a gateway should prepare.
type Request struct {
	AttemptID   uuid.UUID
	BookingCode string
	Amount      int64
	Method      domain.PaymentMethod
	ClientIP    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Checkout is the reference a client uses to complete the payment.
type Checkout struct {
	TxnRef      string
	RedirectURL string
}

// Callback is a verified gateway notification about one attempt.
type Callback struct {
	AttemptID    uuid.UUID
	ResponseCode string
	Result       domain.AttemptResult
}

type Gateway interface {
	Checkout(ctx context.Context, req Request) (Checkout, error)
}

// Offline serves methods settled outside any gateway, such as bank
// transfers. The reference is the attempt id; there is nowhere to redirect.
type Offline struct{}

func (Offline) Checkout(_ context.Context, req Request) (Checkout, error) {
	return Checkout{TxnRef: fmt.Sprintf("OFF-%s", req.AttemptID)}, nil
}

// Router picks a gateway per payment method, falling back to a default.
type Router struct {
	Default  Gateway
	ByMethod map[domain.PaymentMethod]Gateway
}

func (r Router) Checkout(ctx context.Context, req Request) (Checkout, error) {
	if g, ok := r.ByMethod[req.Method]; ok {
		return g.Checkout(ctx, req)
	}
	return r.Default.Checkout(ctx, req)
}
