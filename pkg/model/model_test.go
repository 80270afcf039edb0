package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepositStatusTerminal(t *testing.T) {
	assert.False(t, DepositNone.Terminal())
	assert.False(t, DepositSubmitted.Terminal())
	assert.True(t, DepositAccepted.Terminal())
	assert.True(t, DepositRejected.Terminal())
	assert.True(t, DepositFailed.Terminal())
}

func TestDepositStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DepositStatus
		to   DepositStatus
		want bool
	}{
		{"none to submitted", DepositNone, DepositSubmitted, true},
		{"none to failed", DepositNone, DepositFailed, true},
		{"none to accepted skips submitted", DepositNone, DepositAccepted, false},
		{"submitted to accepted", DepositSubmitted, DepositAccepted, true},
		{"submitted to rejected", DepositSubmitted, DepositRejected, true},
		{"submitted to failed", DepositSubmitted, DepositFailed, true},
		{"submitted back to none", DepositSubmitted, DepositNone, false},
		{"failed resets for retry", DepositFailed, DepositNone, true},
		{"failed to accepted", DepositFailed, DepositAccepted, false},
		{"accepted is final", DepositAccepted, DepositRejected, false},
		{"rejected is final", DepositRejected, DepositNone, false},
		{"self transition is a no-op", DepositSubmitted, DepositSubmitted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}
