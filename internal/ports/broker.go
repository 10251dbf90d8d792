package ports

import (
	"context"
	"time"

	"strikePilot/internal/domain"
)

// OrderRequest carries the parameters of one order submission.
type OrderRequest struct {
	ClientOrderID string      // Caller-generated idempotency key
	Ticker        string      // Market ticker to trade
	Side          domain.Side // YES or NO
	Size          int64       // Contracts
	LimitPrice    float64     // Dollars per contract
}

// BrokerGateway is the order-execution capability of the event exchange.
// Wire-level authentication is the adapter's concern; callers see only the
// capability surface.
type BrokerGateway interface {
	// SubmitOrder places an order and returns the broker's order ID.
	SubmitOrder(ctx context.Context, req OrderRequest) (brokerOrderID string, err error)
	// FetchFills returns fills recorded at or after since.
	FetchFills(ctx context.Context, since time.Time) ([]domain.Fill, error)
	// FetchSettlements returns settlements recorded at or after since.
	FetchSettlements(ctx context.Context, since time.Time) ([]domain.Settlement, error)
}

// ProcessSupervisor is the external process manager the failure detector
// uses to request component restarts.
type ProcessSupervisor interface {
	// Restart asks the supervisor to restart the named component.
	Restart(ctx context.Context, component string) error
	// Health returns the supervisor's view of the named component.
	Health(ctx context.Context, component string) (string, error)
}
