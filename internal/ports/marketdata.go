package ports

import (
	"context"

	"strikePilot/internal/domain"
)

// MarketSnapshotSource provides the set of currently tradable strikes for an
// instrument. Implementations must bound every call with the caller's
// context and translate transport failures to the standard error catalog.
type MarketSnapshotSource interface {
	// CurrentStrikes returns all tradable strikes for the instrument.
	CurrentStrikes(ctx context.Context, instrument domain.Instrument) ([]domain.StrikeQuote, error)
}

// PriceSource provides the current underlying price and momentum score.
type PriceSource interface {
	// CurrentPriceAndMomentum returns the latest underlying price for the
	// symbol together with a momentum score over the recent window.
	CurrentPriceAndMomentum(ctx context.Context, symbol string) (price float64, momentum float64, err error)
}
