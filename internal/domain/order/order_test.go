package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_FulfilmentPath(t *testing.T) {
	path := []Status{
		StatusProcessing,
		StatusPacking,
		StatusOutForDelivery,
		StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]),
			"%s -> %s should be allowed", path[i], path[i+1])
	}
}

func TestCanTransition_PickupPath(t *testing.T) {
	assert.True(t, CanTransition(StatusPacking, StatusReadyForPickup))
	assert.True(t, CanTransition(StatusReadyForPickup, StatusCompleted))
}

func TestCanTransition_RefundLifecycle(t *testing.T) {
	assert.True(t, CanTransition(StatusCompleted, StatusRefundRequested))
	assert.True(t, CanTransition(StatusRefundRequested, StatusRefunded))
	assert.True(t, CanTransition(StatusRefundRequested, StatusRefundRejected))

	// Both decisions are terminal.
	assert.False(t, CanTransition(StatusRefunded, StatusRefundRequested))
	assert.False(t, CanTransition(StatusRefundRejected, StatusRefundRequested))
}

func TestCanTransition_Disallowed(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCompleted, StatusPacking},
		{StatusCancelled, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusOutForDelivery, StatusProcessing},
		{StatusRefunded, StatusCompleted},
		{StatusFailedPayment, StatusPacking},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s should be rejected", c.from, c.to)
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusProcessing.Valid())
	assert.True(t, StatusRefundRejected.Valid())
	assert.False(t, Status("Shipped").Valid())
	assert.False(t, Status("").Valid())
}
