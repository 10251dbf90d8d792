package domain

import "time"

// Trade is the durable record of one entry into an opportunity. It is owned
// exclusively by the trade ledger; other components hold the ID and read
// projections, they never mutate a Trade directly.
type Trade struct {
	ID             string     // Unique identifier (UUID)
	Instrument     Instrument // Owning instrument
	Ticker         string     // Exchange market ticker the order targets
	Strike         float64    // Strike price of the contract
	Side           Side       // YES or NO
	RequestedSize  int64      // Contracts requested
	RequestedPrice float64    // Limit price requested, dollars per contract
	State          TradeState // Current lifecycle state
	BrokerOrderID  *string    // Assigned by the broker on submission (nullable)
	FillPrice      float64    // Average fill price (0 until confirmed)
	RealizedPnL    float64    // Final P&L (0 until closed)
	ExitReason     ExitReason // Why the close was initiated (empty until closing)
	ReviewRequired bool       // Set when reconciliation gave up on this trade
	OpenedAt       time.Time  // When the trade was created (Pending)
	ClosedAt       time.Time  // When it reached a terminal state (zero until then)
}

// Key returns the opportunity key. At most one live trade may exist per key.
func (t *Trade) Key() OpportunityKey {
	return OpportunityKey{Instrument: t.Instrument, Strike: t.Strike, Side: t.Side}
}

// OpportunityKey identifies one tradable opportunity. The ledger enforces
// uniqueness of live trades over this key.
type OpportunityKey struct {
	Instrument Instrument
	Strike     float64
	Side       Side
}

// TradeFilter narrows trade history queries. Zero values match everything.
type TradeFilter struct {
	Instrument Instrument
	State      TradeState
	Since      time.Time
	Limit      int
}
