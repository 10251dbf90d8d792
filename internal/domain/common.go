package domain

// Side represents the outcome side of a binary contract (YES or NO).
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// TradeState represents the lifecycle state of a trade.
type TradeState string

const (
	StatePending  TradeState = "pending"  // Created locally, awaiting broker fill
	StateOpen     TradeState = "open"     // Broker confirmed the fill
	StateClosing  TradeState = "closing"  // Close requested, awaiting settlement
	StateClosed   TradeState = "closed"   // Settlement recorded, P&L final
	StateRejected TradeState = "rejected" // Broker rejected or fill never arrived
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TradeState) IsTerminal() bool {
	return s == StateClosed || s == StateRejected
}

// IsLive reports whether a trade in state s still occupies its
// (instrument, strike, side) opportunity key.
func (s TradeState) IsLive() bool {
	return s == StatePending || s == StateOpen || s == StateClosing
}

// CanTransition reports whether moving from -> to is a legal lifecycle step.
// Legal steps: Pending->Open, Open->Closing, Closing->Closed, Pending->Rejected.
func CanTransition(from, to TradeState) bool {
	switch from {
	case StatePending:
		return to == StateOpen || to == StateRejected
	case StateOpen:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	default:
		return false
	}
}

// ExitReason indicates why a position close was initiated.
type ExitReason string

const (
	ExitReasonProbabilityDrop ExitReason = "PROBABILITY_DROP"
	ExitReasonExpiry          ExitReason = "EXPIRY"
	ExitReasonManual          ExitReason = "MANUAL"
	ExitReasonInterlock       ExitReason = "INTERLOCK"
	ExitReasonUnknown         ExitReason = "UNKNOWN"
)
