package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripeGate checks that a booking's PaymentIntent cleared before drivers are
// notified. Charging and capture belong to the checkout flow.
type StripeGate struct {
	api *client.API
}

func NewStripeGate(apiKey string) *StripeGate {
	return &StripeGate{api: client.New(apiKey, nil)}
}

// Confirmed reports whether the PaymentIntent is paid or authorised for a
// manual capture.
func (s *StripeGate) Confirmed(ctx context.Context, paymentIntentID string) (bool, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return false, err
	}
	return Settled(pi.Status), nil
}

// Settled is true for statuses where funds are secured.
func Settled(status stripe.PaymentIntentStatus) bool {
	switch status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		return true
	}
	return false
}
