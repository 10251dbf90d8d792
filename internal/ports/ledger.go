package ports

import (
	"context"
	"time"

	"strikePilot/internal/domain"
)

// TradeLedger is the durable system of record for trades. It is the only
// mutable state shared between pipeline components.
//
// Implementations must guarantee:
//   - Create enforces at most one live (pending/open/closing) trade per
//     opportunity key, returning ErrDuplicateTrade on conflict.
//   - Every Mark* method performs an atomic read-modify-write guarded on the
//     expected source state, returning ErrInvalidTransition when the trade
//     is not in that state. Writes for a single trade ID are linearized.
//   - A transition is durable before the call returns.
type TradeLedger interface {
	// Create persists a new Pending trade.
	Create(ctx context.Context, trade *domain.Trade) error
	// AttachBrokerOrder records the broker order ID on a Pending trade.
	AttachBrokerOrder(ctx context.Context, tradeID, brokerOrderID string) error
	// MarkOpen transitions Pending -> Open and records the fill price.
	MarkOpen(ctx context.Context, tradeID string, fillPrice float64) error
	// MarkClosing transitions Open -> Closing and records the exit reason.
	MarkClosing(ctx context.Context, tradeID string, reason domain.ExitReason) error
	// MarkClosed transitions Closing -> Closed and records realized P&L.
	MarkClosed(ctx context.Context, tradeID string, realizedPnL float64, closedAt time.Time) error
	// MarkRejected transitions Pending -> Rejected.
	MarkRejected(ctx context.Context, tradeID string, closedAt time.Time) error
	// MarkForReview flags a trade for operator attention without changing state.
	MarkForReview(ctx context.Context, tradeID string) error

	// FindByID returns the trade, or nil, nil when absent.
	FindByID(ctx context.Context, tradeID string) (*domain.Trade, error)
	// FindLiveByKey returns the live trade occupying the key, or nil, nil.
	FindLiveByKey(ctx context.Context, key domain.OpportunityKey) (*domain.Trade, error)
	// FindByStates returns all trades currently in any of the given states.
	FindByStates(ctx context.Context, states ...domain.TradeState) ([]*domain.Trade, error)
	// History returns trades matching the filter, most recent first.
	History(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error)
	// CountLive returns the number of live trades.
	CountLive(ctx context.Context) (int, error)
}
