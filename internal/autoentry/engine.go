// Package autoentry turns published strike snapshots into at-most-once trade
// requests. Submission is disabled unless live trading is explicitly enabled
// and the failure detector's interlock allows it; every other path is a
// logged simulation.
package autoentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/observ"
	"strikePilot/internal/ports"

	"github.com/google/uuid"
)

// Component is the name this engine reports itself under.
const Component = "autoentry"

// Interlock is the failure detector's veto over live submissions.
type Interlock interface {
	LiveAllowed() bool
}

// PositionSource exposes the supervisor's open-position projection.
type PositionSource interface {
	OpenPositions() []domain.ActiveTradePosition
	BeginClose(ctx context.Context, tradeID string, reason domain.ExitReason) error
}

// Config holds the entry/exit rule set.
type Config struct {
	LiveEnabled            bool          // Hard safety gate; false means dry-run only
	EntryThreshold         float64       // Minimum probability to enter
	ExitThreshold          float64       // Probability below which an open position is closed
	OrderSize              int64         // Contracts per entry
	MaxConcurrentPositions int           // Ceiling on live trades
	MaxSnapshotAge         time.Duration // Snapshots older than this are not acted on
	RequireMomentumAgree   bool          // YES entries need momentum >= 0, NO entries <= 0
}

// Engine evaluates every new snapshot exactly once.
type Engine struct {
	cfg       Config
	logger    ports.Logger
	ledger    ports.TradeLedger
	broker    ports.BrokerGateway
	positions PositionSource
	interlock Interlock
	health    ports.HealthReporter

	lastSeq   uint64
	suspended bool // tracks the suspension edge for logging only
}

// New creates an auto-entry engine.
func New(cfg Config, logger ports.Logger, ledger ports.TradeLedger, broker ports.BrokerGateway,
	positions PositionSource, interlock Interlock, health ports.HealthReporter) (*Engine, error) {
	if logger == nil || ledger == nil || broker == nil || positions == nil || interlock == nil || health == nil {
		return nil, fmt.Errorf("missing required dependencies for auto-entry engine")
	}
	if cfg.EntryThreshold <= 0 || cfg.EntryThreshold > 1 {
		return nil, fmt.Errorf("entry threshold must be in (0,1], got %f", cfg.EntryThreshold)
	}
	if cfg.ExitThreshold < 0 || cfg.ExitThreshold >= cfg.EntryThreshold {
		return nil, fmt.Errorf("exit threshold must be in [0, entry threshold), got %f", cfg.ExitThreshold)
	}
	if cfg.OrderSize <= 0 {
		return nil, fmt.Errorf("order size must be positive, got %d", cfg.OrderSize)
	}
	if cfg.MaxConcurrentPositions <= 0 {
		return nil, fmt.Errorf("max concurrent positions must be positive, got %d", cfg.MaxConcurrentPositions)
	}
	if cfg.MaxSnapshotAge <= 0 {
		cfg.MaxSnapshotAge = 3 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		broker:    broker,
		positions: positions,
		interlock: interlock,
		health:    health,
	}, nil
}

// Run consumes published snapshots until the context is canceled. The engine
// is event-driven: it evaluates each sequence number at most once and has no
// timer of its own.
func (e *Engine) Run(ctx context.Context, snapshots <-chan *domain.StrikeSnapshot) error {
	e.logger.Info(ctx, "Auto-entry engine starting", map[string]interface{}{
		"liveEnabled": e.cfg.LiveEnabled, "entryThreshold": e.cfg.EntryThreshold,
	})
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Auto-entry engine stopping")
			return ctx.Err()
		case snapshot, ok := <-snapshots:
			if !ok {
				return fmt.Errorf("snapshot channel closed")
			}
			e.Evaluate(ctx, snapshot)
		}
	}
}

// Evaluate runs the rule set against one snapshot. Snapshots whose sequence
// was already seen are ignored so no snapshot is ever acted on twice.
func (e *Engine) Evaluate(ctx context.Context, snapshot *domain.StrikeSnapshot) {
	if snapshot == nil || snapshot.Sequence <= e.lastSeq {
		return
	}
	e.lastSeq = snapshot.Sequence
	defer e.health.Beat(Component)

	if snapshot.Stale || snapshot.Age(time.Now()) > e.cfg.MaxSnapshotAge {
		if !e.suspended {
			e.suspended = true
			e.logger.Warn(ctx, "Snapshot stale, suspending trade decisions", map[string]interface{}{
				"sequence": snapshot.Sequence, "age": snapshot.Age(time.Now()).String(),
			})
		}
		observ.EntryDecisions.WithLabelValues("suspended").Inc()
		return
	}
	if e.suspended {
		e.suspended = false
		e.logger.Info(ctx, "Fresh snapshot received, resuming trade decisions", map[string]interface{}{
			"sequence": snapshot.Sequence,
		})
	}

	e.evaluateExits(ctx, snapshot)
	e.evaluateEntries(ctx, snapshot)
}

// evaluateExits closes open positions whose probability has collapsed.
func (e *Engine) evaluateExits(ctx context.Context, snapshot *domain.StrikeSnapshot) {
	open := e.positions.OpenPositions()
	if len(open) == 0 {
		return
	}
	probs := make(map[string]float64, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		probs[entry.Quote.Ticker+"/"+string(entry.Quote.Side)] = entry.Probability
	}
	for _, pos := range open {
		prob, ok := probs[pos.Ticker+"/"+string(pos.Side)]
		if !ok || prob >= e.cfg.ExitThreshold {
			continue
		}
		if err := e.positions.BeginClose(ctx, pos.TradeID, domain.ExitReasonProbabilityDrop); err != nil {
			if errors.Is(err, ports.ErrInvalidTransition) {
				// Already closing or settled; nothing to do.
				continue
			}
			e.logger.Error(ctx, err, "Failed to initiate close", map[string]interface{}{"tradeID": pos.TradeID})
			continue
		}
		e.submitClose(ctx, pos)
	}
}

// evaluateEntries applies the entry rules to every strike in the snapshot.
func (e *Engine) evaluateEntries(ctx context.Context, snapshot *domain.StrikeSnapshot) {
	for _, entry := range snapshot.Entries {
		if entry.Probability < e.cfg.EntryThreshold {
			observ.EntryDecisions.WithLabelValues("below_threshold").Inc()
			continue
		}
		if e.cfg.RequireMomentumAgree && !momentumAgrees(entry.Quote.Side, snapshot.Momentum[entry.Quote.Instrument]) {
			observ.EntryDecisions.WithLabelValues("momentum_disagree").Inc()
			continue
		}
		e.tryEnter(ctx, entry)
	}
}

// tryEnter attempts a single at-most-once entry for one strike.
func (e *Engine) tryEnter(ctx context.Context, entry domain.SnapshotEntry) {
	quote := entry.Quote
	key := domain.OpportunityKey{Instrument: quote.Instrument, Strike: quote.StrikePrice, Side: quote.Side}

	// Fast-path existence check. The ledger's uniqueness constraint below is
	// the authoritative guard; this only avoids pointless inserts.
	existing, err := e.ledger.FindLiveByKey(ctx, key)
	if err != nil {
		e.logger.Error(ctx, err, "Opportunity existence check failed", map[string]interface{}{"ticker": quote.Ticker})
		return
	}
	if existing != nil {
		observ.EntryDecisions.WithLabelValues("duplicate").Inc()
		return
	}

	live, err := e.ledger.CountLive(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "Live trade count failed")
		return
	}
	if live >= e.cfg.MaxConcurrentPositions {
		observ.EntryDecisions.WithLabelValues("limit").Inc()
		return
	}

	// Any uncertainty means do not trade: only an explicit live flag plus a
	// clean interlock forwards a decision to the broker.
	if !e.cfg.LiveEnabled || !e.interlock.LiveAllowed() {
		observ.EntryDecisions.WithLabelValues("dry_run").Inc()
		e.logger.Info(ctx, "Dry-run entry decision", map[string]interface{}{
			"ticker": quote.Ticker, "side": quote.Side, "strike": quote.StrikePrice,
			"probability": entry.Probability, "askPrice": quote.AskPrice,
			"liveEnabled": e.cfg.LiveEnabled, "interlock": e.interlock.LiveAllowed(),
		})
		return
	}

	trade := &domain.Trade{
		ID:             uuid.NewString(),
		Instrument:     quote.Instrument,
		Ticker:         quote.Ticker,
		Strike:         quote.StrikePrice,
		Side:           quote.Side,
		RequestedSize:  e.cfg.OrderSize,
		RequestedPrice: quote.AskPrice,
		State:          domain.StatePending,
		OpenedAt:       time.Now().UTC(),
	}
	if err := e.ledger.Create(ctx, trade); err != nil {
		if errors.Is(err, ports.ErrDuplicateTrade) {
			// Another evaluator claimed the key first; by design a no-op.
			observ.EntryDecisions.WithLabelValues("duplicate").Inc()
			return
		}
		e.logger.Error(ctx, err, "Trade creation failed", map[string]interface{}{"ticker": quote.Ticker})
		e.health.ReportError(Component, err)
		return
	}

	brokerOrderID, err := e.broker.SubmitOrder(ctx, ports.OrderRequest{
		ClientOrderID: trade.ID,
		Ticker:        quote.Ticker,
		Side:          quote.Side,
		Size:          e.cfg.OrderSize,
		LimitPrice:    quote.AskPrice,
	})
	if err != nil {
		e.logger.Error(ctx, err, "Order submission failed, rejecting trade", map[string]interface{}{
			"tradeID": trade.ID, "ticker": quote.Ticker,
		})
		if rejErr := e.ledger.MarkRejected(ctx, trade.ID, time.Now().UTC()); rejErr != nil {
			e.logger.Error(ctx, rejErr, "Failed to reject unsubmitted trade", map[string]interface{}{"tradeID": trade.ID})
			e.health.ReportError(Component, rejErr)
		}
		return
	}
	if err := e.ledger.AttachBrokerOrder(ctx, trade.ID, brokerOrderID); err != nil {
		e.logger.Error(ctx, err, "Failed to record broker order ID", map[string]interface{}{
			"tradeID": trade.ID, "brokerOrderID": brokerOrderID,
		})
		e.health.ReportError(Component, err)
		return
	}

	observ.EntryDecisions.WithLabelValues("submitted").Inc()
	e.logger.Info(ctx, "Entry order submitted", map[string]interface{}{
		"tradeID": trade.ID, "brokerOrderID": brokerOrderID, "ticker": quote.Ticker,
		"probability": entry.Probability, "limitPrice": quote.AskPrice, "size": e.cfg.OrderSize,
	})
}

// submitClose forwards a closing order for a position whose close was just
// initiated. Failures are logged; the reconciliation poll settles the trade
// either way when the contract resolves.
func (e *Engine) submitClose(ctx context.Context, pos domain.ActiveTradePosition) {
	if !e.cfg.LiveEnabled || !e.interlock.LiveAllowed() {
		e.logger.Info(ctx, "Dry-run close decision", map[string]interface{}{
			"tradeID": pos.TradeID, "ticker": pos.Ticker,
		})
		return
	}
	_, err := e.broker.SubmitOrder(ctx, ports.OrderRequest{
		ClientOrderID: pos.TradeID + "-close",
		Ticker:        pos.Ticker,
		Side:          oppositeSide(pos.Side),
		Size:          pos.Size,
		LimitPrice:    0, // market close
	})
	if err != nil {
		e.logger.Error(ctx, err, "Closing order submission failed", map[string]interface{}{"tradeID": pos.TradeID})
		e.health.ReportError(Component, err)
		return
	}
	e.logger.Info(ctx, "Closing order submitted", map[string]interface{}{"tradeID": pos.TradeID})
}

// momentumAgrees applies the directional filter: YES entries ride
// non-negative momentum, NO entries non-positive.
func momentumAgrees(side domain.Side, momentum float64) bool {
	if side == domain.SideYes {
		return momentum >= 0
	}
	return momentum <= 0
}

func oppositeSide(side domain.Side) domain.Side {
	if side == domain.SideYes {
		return domain.SideNo
	}
	return domain.SideYes
}
