package domain

import "time"

// ActiveTradePosition is the live projection of one Open trade, carrying the
// fill and reconciliation fields the supervisor maintains. Exactly one
// position exists per Open trade and none for any other state.
type ActiveTradePosition struct {
	TradeID         string     // Backing trade
	Instrument      Instrument // Owning instrument
	Ticker          string     // Exchange market ticker
	Strike          float64    // Strike price
	Side            Side       // YES or NO
	Size            int64      // Contracts held
	FillPrice       float64    // Confirmed average fill price
	BrokerConfirmed bool       // True once a broker fill has been matched
	OpenedAt        time.Time  // When the backing trade was created
}

// Fill is a broker confirmation that an order executed.
type Fill struct {
	BrokerOrderID string    // Broker's order identifier
	Ticker        string    // Market ticker
	Side          Side      // Side that executed
	Price         float64   // Average execution price, dollars per contract
	Size          int64     // Contracts executed
	FilledAt      time.Time // Execution time
}

// Settlement is a broker confirmation that a contract resolved.
type Settlement struct {
	BrokerOrderID string    // Broker's order identifier
	Ticker        string    // Market ticker
	Payout        float64   // Dollars per contract paid out (0 or 1 for binaries)
	SettledAt     time.Time // Resolution time
}
