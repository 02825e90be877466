package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v74"
)

func TestSettled(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]bool{
		stripe.PaymentIntentStatusSucceeded:             true,
		stripe.PaymentIntentStatusRequiresCapture:       true,
		stripe.PaymentIntentStatusRequiresPaymentMethod: false,
		stripe.PaymentIntentStatusProcessing:            false,
		stripe.PaymentIntentStatusCanceled:              false,
	}
	for status, want := range cases {
		assert.Equal(t, want, Settled(status), string(status))
	}
}
