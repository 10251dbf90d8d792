// Package supervisor owns the trade lifecycle beyond creation: it reconciles
// locally initiated trades against broker fills and settlements and maintains
// the live projection of open positions.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/observ"
	"strikePilot/internal/ports"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// Component is the name this supervisor reports itself under.
const Component = "supervisor"

// Config holds configuration for the supervisor.
type Config struct {
	PollInterval time.Duration // Broker reconciliation cadence
	PollTimeout  time.Duration // Bound on each broker call
	FillTimeout  time.Duration // Pending age after which a trade is flagged for review
	Lookback     time.Duration // Overlap window when polling fills/settlements
}

// Supervisor is the sole writer of trade state transitions beyond creation.
type Supervisor struct {
	cfg    Config
	logger ports.Logger
	ledger ports.TradeLedger
	broker ports.BrokerGateway
	health ports.HealthReporter

	mu        sync.RWMutex
	positions map[string]domain.ActiveTradePosition // keyed by trade ID
	flagged   map[string]bool                       // trades already marked for review

	fillWatermark       time.Time
	settlementWatermark time.Time
}

// New creates a supervisor and recovers the position projection from the
// ledger so a restart does not lose track of in-flight trades.
func New(ctx context.Context, cfg Config, logger ports.Logger, ledger ports.TradeLedger, broker ports.BrokerGateway, health ports.HealthReporter) (*Supervisor, error) {
	if logger == nil || ledger == nil || broker == nil || health == nil {
		return nil, fmt.Errorf("missing required dependencies for supervisor")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = cfg.PollInterval
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 2 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Minute
	}
	s := &Supervisor{
		cfg:                 cfg,
		logger:              logger,
		ledger:              ledger,
		broker:              broker,
		health:              health,
		positions:           make(map[string]domain.ActiveTradePosition),
		flagged:             make(map[string]bool),
		fillWatermark:       time.Now().Add(-cfg.Lookback),
		settlementWatermark: time.Now().Add(-cfg.Lookback),
	}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// recover rebuilds the open-position projection from the ledger.
func (s *Supervisor) recover(ctx context.Context) error {
	live, err := s.ledger.FindByStates(ctx, domain.StateOpen, domain.StateClosing)
	if err != nil {
		return fmt.Errorf("failed to recover live trades: %w", err)
	}
	for _, t := range live {
		if t.State == domain.StateOpen {
			s.positions[t.ID] = positionFor(t)
		}
		// Poll watermarks must cover trades that predate this process.
		if t.OpenedAt.Before(s.fillWatermark) {
			s.fillWatermark = t.OpenedAt
		}
		if t.OpenedAt.Before(s.settlementWatermark) {
			s.settlementWatermark = t.OpenedAt
		}
	}
	s.logger.Info(ctx, "Supervisor state recovered", map[string]interface{}{
		"openPositions": len(s.positions), "liveTrades": len(live),
	})
	return nil
}

// OpenPositions returns a copy of the current open-position projection.
func (s *Supervisor) OpenPositions() []domain.ActiveTradePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ActiveTradePosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// HasPosition reports whether a trade currently has an open position.
func (s *Supervisor) HasPosition(tradeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[tradeID]
	return ok
}

// Confirm applies a broker fill to a Pending trade, transitioning it to
// Open. Re-confirming an already-Open trade is a no-op, not an error.
func (s *Supervisor) Confirm(ctx context.Context, tradeID string, fill domain.Fill) error {
	trade, err := s.ledger.FindByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade == nil {
		return fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	if trade.State == domain.StateOpen {
		s.logger.Debug(ctx, "Re-confirm of open trade ignored", map[string]interface{}{"tradeID": tradeID})
		return nil
	}
	if err := s.ledger.MarkOpen(ctx, tradeID, fill.Price); err != nil {
		return err
	}
	trade.State = domain.StateOpen
	trade.FillPrice = fill.Price

	s.mu.Lock()
	pos := positionFor(trade)
	pos.BrokerConfirmed = true
	s.positions[tradeID] = pos
	s.mu.Unlock()

	s.logger.Info(ctx, "Trade confirmed open", map[string]interface{}{
		"tradeID": tradeID, "fillPrice": fill.Price, "size": fill.Size,
	})
	return nil
}

// BeginClose transitions an Open trade to Closing. Any other state is an error.
func (s *Supervisor) BeginClose(ctx context.Context, tradeID string, reason domain.ExitReason) error {
	if err := s.ledger.MarkClosing(ctx, tradeID, reason); err != nil {
		return err
	}
	s.logger.Info(ctx, "Trade close initiated", map[string]interface{}{
		"tradeID": tradeID, "reason": reason,
	})
	return nil
}

// FinalizeClose applies a settlement to a Closing trade, records realized
// P&L and removes the position projection. The projection is dropped only
// after the ledger write commits.
func (s *Supervisor) FinalizeClose(ctx context.Context, tradeID string, settlement domain.Settlement) error {
	trade, err := s.ledger.FindByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if trade == nil {
		return fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}

	pnl := realizedPnL(trade, settlement)
	if err := s.ledger.MarkClosed(ctx, tradeID, pnl, settlement.SettledAt); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.positions, tradeID)
	delete(s.flagged, tradeID)
	s.mu.Unlock()

	s.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID": tradeID, "realizedPnL": pnl, "payout": settlement.Payout,
	})
	return nil
}

// Reject transitions a Pending trade to Rejected (broker refused or the
// order is being withdrawn before any fill).
func (s *Supervisor) Reject(ctx context.Context, tradeID string) error {
	if err := s.ledger.MarkRejected(ctx, tradeID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info(ctx, "Trade rejected", map[string]interface{}{"tradeID": tradeID})
	return nil
}

// Run polls the broker for fills and settlements until the context is
// canceled, catching events the submission path missed. Transient broker
// failures back off exponentially and never crash the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Supervisor starting", map[string]interface{}{
		"pollInterval": s.cfg.PollInterval.String(),
	})
	backoffCfg := backoff.NewExponentialBackOff()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.reconcile(ctx); err != nil {
			observ.BrokerPollErrors.Inc()
			s.health.ReportError(Component, err)
			s.logger.Warn(ctx, "Broker reconciliation failed", map[string]interface{}{"error": err.Error()})
			sleep := backoffCfg.NextBackOff()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}
		backoffCfg.Reset()
		s.health.Beat(Component)
	}
}

// reconcile applies one round of broker-side fills and settlements and
// flags stuck Pending trades.
func (s *Supervisor) reconcile(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	now := time.Now()

	fills, err := s.broker.FetchFills(pollCtx, s.fillWatermark)
	if err != nil {
		return fmt.Errorf("fetching fills: %w", err)
	}
	if err := s.applyFills(pollCtx, fills); err != nil {
		return err
	}
	s.fillWatermark = now.Add(-s.cfg.Lookback)

	settlements, err := s.broker.FetchSettlements(pollCtx, s.settlementWatermark)
	if err != nil {
		return fmt.Errorf("fetching settlements: %w", err)
	}
	if err := s.applySettlements(pollCtx, settlements); err != nil {
		return err
	}
	s.settlementWatermark = now.Add(-s.cfg.Lookback)

	return s.flagStuckTrades(pollCtx, now)
}

// applyFills matches fills to Pending trades by broker order ID.
func (s *Supervisor) applyFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	pending, err := s.ledger.FindByStates(ctx, domain.StatePending)
	if err != nil {
		return err
	}
	byOrder := make(map[string]*domain.Trade, len(pending))
	for _, t := range pending {
		if t.BrokerOrderID != nil {
			byOrder[*t.BrokerOrderID] = t
		}
	}
	for _, fill := range fills {
		trade, ok := byOrder[fill.BrokerOrderID]
		if !ok {
			// A fill with no matching local trade is a consistency
			// signal: never acted on, always surfaced.
			s.logger.Warn(ctx, "Fill without matching pending trade", map[string]interface{}{
				"brokerOrderID": fill.BrokerOrderID, "ticker": fill.Ticker,
			})
			continue
		}
		if err := s.Confirm(ctx, trade.ID, fill); err != nil {
			return fmt.Errorf("confirming trade %s: %w", trade.ID, err)
		}
	}
	return nil
}

// applySettlements finalizes Closing trades, and force-closes Open trades
// whose contract resolved underneath them (expiry settles positions whether
// or not an exit was requested).
func (s *Supervisor) applySettlements(ctx context.Context, settlements []domain.Settlement) error {
	if len(settlements) == 0 {
		return nil
	}
	live, err := s.ledger.FindByStates(ctx, domain.StateOpen, domain.StateClosing)
	if err != nil {
		return err
	}
	byOrder := make(map[string]*domain.Trade, len(live))
	for _, t := range live {
		if t.BrokerOrderID != nil {
			byOrder[*t.BrokerOrderID] = t
		}
	}
	for _, settlement := range settlements {
		trade, ok := byOrder[settlement.BrokerOrderID]
		if !ok {
			continue
		}
		if trade.State == domain.StateOpen {
			if err := s.BeginClose(ctx, trade.ID, domain.ExitReasonExpiry); err != nil {
				return fmt.Errorf("closing settled trade %s: %w", trade.ID, err)
			}
			trade.State = domain.StateClosing
		}
		if err := s.FinalizeClose(ctx, trade.ID, settlement); err != nil {
			return fmt.Errorf("finalizing settled trade %s: %w", trade.ID, err)
		}
	}
	return nil
}

// flagStuckTrades marks Pending trades older than the fill timeout for
// review. They stay Pending: releasing the opportunity key without knowing
// the broker-side outcome could double an exposure.
func (s *Supervisor) flagStuckTrades(ctx context.Context, now time.Time) error {
	pending, err := s.ledger.FindByStates(ctx, domain.StatePending)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if now.Sub(t.OpenedAt) < s.cfg.FillTimeout {
			continue
		}
		s.mu.Lock()
		alreadyFlagged := s.flagged[t.ID]
		s.flagged[t.ID] = true
		s.mu.Unlock()
		if alreadyFlagged {
			continue
		}
		if err := s.ledger.MarkForReview(ctx, t.ID); err != nil {
			return err
		}
		s.health.ReportError(Component, fmt.Errorf("trade %s pending without fill for %s", t.ID, now.Sub(t.OpenedAt)))
	}
	return nil
}

// realizedPnL computes final P&L in exact decimal arithmetic: contracts are
// cent-priced and float accumulation drifts over many trades.
func realizedPnL(trade *domain.Trade, settlement domain.Settlement) float64 {
	payout := decimal.NewFromFloat(settlement.Payout)
	cost := decimal.NewFromFloat(trade.FillPrice)
	size := decimal.NewFromInt(trade.RequestedSize)
	return payout.Sub(cost).Mul(size).InexactFloat64()
}

// positionFor builds the projection entry for an Open trade.
func positionFor(t *domain.Trade) domain.ActiveTradePosition {
	return domain.ActiveTradePosition{
		TradeID:         t.ID,
		Instrument:      t.Instrument,
		Ticker:          t.Ticker,
		Strike:          t.Strike,
		Side:            t.Side,
		Size:            t.RequestedSize,
		FillPrice:       t.FillPrice,
		BrokerConfirmed: true,
		OpenedAt:        t.OpenedAt,
	}
}
