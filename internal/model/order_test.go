package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusFeeRequested, true},
		{OrderStatusPending, OrderStatusCanceled, true},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusFeeRequested, OrderStatusConfirmed, true},
		{OrderStatusFeeRequested, OrderStatusCanceled, true},
		{OrderStatusFeeRequested, OrderStatusDelivered, false},
		{OrderStatusConfirmed, OrderStatusDelivered, true},
		{OrderStatusConfirmed, OrderStatusCanceled, false},
		{OrderStatusCanceled, OrderStatusConfirmed, false},
		{OrderStatusDelivered, OrderStatusConfirmed, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, CanTransitionTo(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	assert.False(t, PaymentStatusIsTerminal(PaymentStatusPending))
	assert.True(t, PaymentStatusIsTerminal(PaymentStatusCredited))
	assert.True(t, PaymentStatusIsTerminal(PaymentStatusFailed))
	assert.True(t, PaymentStatusIsTerminal(PaymentStatusExpired))
}
