package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TradeState
		to   TradeState
		want bool
	}{
		{name: "pending to open", from: StatePending, to: StateOpen, want: true},
		{name: "pending to rejected", from: StatePending, to: StateRejected, want: true},
		{name: "open to closing", from: StateOpen, to: StateClosing, want: true},
		{name: "closing to closed", from: StateClosing, to: StateClosed, want: true},
		{name: "pending cannot skip to closing", from: StatePending, to: StateClosing, want: false},
		{name: "pending cannot skip to closed", from: StatePending, to: StateClosed, want: false},
		{name: "open cannot regress to pending", from: StateOpen, to: StatePending, want: false},
		{name: "open cannot be rejected", from: StateOpen, to: StateRejected, want: false},
		{name: "closing cannot regress to open", from: StateClosing, to: StateOpen, want: false},
		{name: "closed is terminal", from: StateClosed, to: StateClosing, want: false},
		{name: "rejected is terminal", from: StateRejected, to: StatePending, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTradeStateClassification(t *testing.T) {
	assert.True(t, StateClosed.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateOpen.IsTerminal())
	assert.False(t, StateClosing.IsTerminal())

	// Live states occupy the opportunity key; terminal states release it.
	for _, s := range []TradeState{StatePending, StateOpen, StateClosing} {
		assert.True(t, s.IsLive(), "state %s should be live", s)
		assert.False(t, s.IsTerminal(), "state %s should not be terminal", s)
	}
	for _, s := range []TradeState{StateClosed, StateRejected} {
		assert.False(t, s.IsLive(), "state %s should not be live", s)
	}
}

func TestTradeKey(t *testing.T) {
	trade := &Trade{
		ID:         "t-1",
		Instrument: "BTCUSD-1H",
		Ticker:     "BTC-24AUG26-65000",
		Strike:     65000,
		Side:       SideYes,
	}
	key := trade.Key()
	assert.Equal(t, OpportunityKey{Instrument: "BTCUSD-1H", Strike: 65000, Side: SideYes}, key)

	// Same opportunity from a different trade compares equal.
	other := &Trade{Instrument: "BTCUSD-1H", Strike: 65000, Side: SideYes}
	assert.Equal(t, key, other.Key())

	// The opposite side is a distinct opportunity.
	opposite := &Trade{Instrument: "BTCUSD-1H", Strike: 65000, Side: SideNo}
	assert.NotEqual(t, key, opposite.Key())
}
