package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionEscalateNeverDowngrades(t *testing.T) {
	assert.Equal(t, ActionReduce50, ActionHold.Escalate(ActionReduce50))
	assert.Equal(t, ActionClose, ActionReduce50.Escalate(ActionClose))
	assert.Equal(t, ActionClose, ActionClose.Escalate(ActionHold))
	assert.Equal(t, ActionClose, ActionClose.Escalate(ActionReduce50))
	assert.Equal(t, ActionHold, ActionHold.Escalate(ActionHold))
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderExecuted, OrderFailed, OrderCancelled, OrderRejected} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []OrderStatus{OrderPending, OrderProcessing, OrderRetrying} {
		assert.False(t, s.Terminal(), string(s))
	}
}
