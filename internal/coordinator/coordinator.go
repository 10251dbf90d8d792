// Package coordinator runs the probability production pipeline: once per
// cadence tick it pulls market and price state, selects the fingerprint
// surface for the current momentum, computes a probability for every strike
// and publishes the result as an immutable, atomically swapped snapshot.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/fingerprint"
	"strikePilot/internal/observ"
	"strikePilot/internal/ports"
	"strikePilot/internal/probability"

	"github.com/sourcegraph/conc/pool"
)

// Component is the name this coordinator reports itself under.
const Component = "coordinator"

// subscriberBuffer bounds each subscriber channel. At a one-second cadence a
// consumer that falls this far behind is broken, not slow; the oldest
// notification is dropped and the consumer catches up from the sequence gap.
const subscriberBuffer = 16

// Config holds configuration for the coordinator.
type Config struct {
	Cadence        time.Duration // Cycle period (the 1 s budget)
	FetchTimeout   time.Duration // Bound on each external fetch
	ComputeWorkers int           // Max goroutines for per-strike computation
	EscalateAfter  int           // Consecutive fetch failures before fatal escalation
}

// Coordinator drives the per-second production cycle.
type Coordinator struct {
	cfg         Config
	logger      ports.Logger
	instruments domain.InstrumentTable
	market      ports.MarketSnapshotSource
	prices      ports.PriceSource
	surfaces    *fingerprint.Store
	engine      *probability.Engine
	health      ports.HealthReporter

	latest       atomic.Pointer[domain.StrikeSnapshot]
	cycleRunning atomic.Bool

	// consecutiveFailures is touched only inside a cycle; cycles never
	// overlap, so no further synchronization is needed.
	consecutiveFailures int
	escalated           bool

	subMu       sync.Mutex
	subscribers []chan *domain.StrikeSnapshot
}

// New creates a coordinator.
func New(
	cfg Config,
	logger ports.Logger,
	instruments domain.InstrumentTable,
	market ports.MarketSnapshotSource,
	prices ports.PriceSource,
	surfaces *fingerprint.Store,
	engine *probability.Engine,
	health ports.HealthReporter,
) (*Coordinator, error) {
	if logger == nil || market == nil || prices == nil || surfaces == nil || engine == nil || health == nil {
		return nil, fmt.Errorf("missing required dependencies for coordinator")
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: coordinator needs at least one instrument", ports.ErrConfigurationError)
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = time.Second
	}
	if cfg.FetchTimeout <= 0 || cfg.FetchTimeout > cfg.Cadence {
		cfg.FetchTimeout = cfg.Cadence / 2
	}
	if cfg.ComputeWorkers <= 0 {
		cfg.ComputeWorkers = 8
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = 3
	}
	return &Coordinator{
		cfg:         cfg,
		logger:      logger,
		instruments: instruments,
		market:      market,
		prices:      prices,
		surfaces:    surfaces,
		engine:      engine,
		health:      health,
	}, nil
}

// Latest returns the most recently published snapshot, or nil before the
// first publish. The returned snapshot is immutable.
func (c *Coordinator) Latest() *domain.StrikeSnapshot {
	return c.latest.Load()
}

// Subscribe returns a channel receiving every published snapshot. A consumer
// that cannot keep up loses the oldest pending notification, never the
// newest.
func (c *Coordinator) Subscribe() <-chan *domain.StrikeSnapshot {
	ch := make(chan *domain.StrikeSnapshot, subscriberBuffer)
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()
	return ch
}

// Run cycles until the context is canceled. An overrunning cycle causes the
// next tick to be skipped; cycles never overlap.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info(ctx, "Coordinator starting", map[string]interface{}{
		"cadence": c.cfg.Cadence.String(), "instruments": len(c.instruments),
	})
	ticker := time.NewTicker(c.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "Coordinator stopping")
			return ctx.Err()
		case <-ticker.C:
			if !c.cycleRunning.CompareAndSwap(false, true) {
				c.logger.Warn(ctx, "Cycle overrun, skipping tick")
				observ.PipelineCycles.WithLabelValues("skipped_overrun").Inc()
				continue
			}
			go func() {
				defer c.cycleRunning.Store(false)
				c.runCycle(ctx)
			}()
		}
	}
}

// runCycle performs one fetch/compute/publish pass.
func (c *Coordinator) runCycle(ctx context.Context) {
	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		observ.CycleDuration.Observe(elapsed.Seconds())
		if elapsed > c.cfg.Cadence {
			c.logger.Warn(ctx, "Cycle exceeded budget", map[string]interface{}{
				"elapsed": elapsed.String(), "budget": c.cfg.Cadence.String(),
			})
		}
	}()

	snapshot, err := c.buildSnapshot(ctx, started)
	if err != nil {
		c.onFetchFailure(ctx, err)
		return
	}

	c.consecutiveFailures = 0
	c.escalated = false
	c.publish(snapshot)
	c.health.Beat(Component)
	observ.PipelineCycles.WithLabelValues("ok").Inc()
}

// buildSnapshot fetches market and price state for every instrument and
// computes the full entry set. Any fetch error aborts the build.
func (c *Coordinator) buildSnapshot(ctx context.Context, now time.Time) (*domain.StrikeSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	type instrumentState struct {
		quotes   []domain.StrikeQuote
		momentum float64
		surface  *fingerprint.Surface
	}

	states := make(map[domain.Instrument]*instrumentState, len(c.instruments))
	momenta := make(map[domain.Instrument]float64, len(c.instruments))
	total := 0

	for sym, spec := range c.instruments {
		_, mom, err := c.prices.CurrentPriceAndMomentum(fetchCtx, spec.UnderlyingSymbol)
		if err != nil {
			return nil, fmt.Errorf("price fetch for %s: %w", sym, err)
		}
		quotes, err := c.market.CurrentStrikes(fetchCtx, sym)
		if err != nil {
			return nil, fmt.Errorf("strike fetch for %s: %w", sym, err)
		}
		surface, err := c.surfaces.Select(sym, mom)
		if err != nil {
			return nil, fmt.Errorf("surface selection for %s: %w", sym, err)
		}
		states[sym] = &instrumentState{quotes: quotes, momentum: mom, surface: surface}
		momenta[sym] = mom
		total += len(quotes)
	}

	entries := make([]domain.SnapshotEntry, 0, total)
	for _, st := range states {
		offset := len(entries)
		entries = entries[:offset+len(st.quotes)]

		p := pool.New().WithMaxGoroutines(c.cfg.ComputeWorkers)
		for i, quote := range st.quotes {
			i, quote := i, quote
			surface := st.surface
			p.Go(func() {
				entries[offset+i] = domain.SnapshotEntry{
					Quote:       quote,
					Probability: c.engine.Probability(surface, quote.TimeToClose, quote.Distance()),
				}
			})
		}
		p.Wait()
		observ.ProbabilitiesComputed.Add(float64(len(st.quotes)))
	}

	return &domain.StrikeSnapshot{
		CreatedAt: now,
		Momentum:  momenta,
		Entries:   entries,
	}, nil
}

// onFetchFailure republishes the last-known snapshot flagged stale and
// escalates after the configured number of consecutive failures.
func (c *Coordinator) onFetchFailure(ctx context.Context, err error) {
	c.consecutiveFailures++
	observ.PipelineCycles.WithLabelValues("fetch_error").Inc()
	c.logger.Warn(ctx, "Cycle fetch failed, republishing last-known snapshot", map[string]interface{}{
		"error": err.Error(), "consecutiveFailures": c.consecutiveFailures,
	})

	if prev := c.latest.Load(); prev != nil {
		stale := &domain.StrikeSnapshot{
			CreatedAt: prev.CreatedAt, // data age is the original fetch time
			Stale:     true,
			Momentum:  prev.Momentum,
			Entries:   prev.Entries,
		}
		c.publish(stale)
	}

	if c.consecutiveFailures >= c.cfg.EscalateAfter {
		if !c.escalated {
			c.escalated = true
			c.health.ReportFatal(Component, fmt.Errorf("%d consecutive fetch failures: %w", c.consecutiveFailures, err))
		}
		return
	}
	c.health.ReportError(Component, err)
}

// publish assigns the next sequence number and swaps the snapshot pointer.
// Consumers observe either the old or the fully-built new snapshot.
func (c *Coordinator) publish(snapshot *domain.StrikeSnapshot) {
	prev := c.latest.Load()
	if prev == nil {
		snapshot.Sequence = 1
	} else {
		snapshot.Sequence = prev.Sequence + 1
	}
	c.latest.Store(snapshot)

	observ.SnapshotSequence.Set(float64(snapshot.Sequence))
	if snapshot.Stale {
		observ.SnapshotStale.Set(1)
	} else {
		observ.SnapshotStale.Set(0)
	}

	c.subMu.Lock()
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drop the oldest pending notification to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	c.subMu.Unlock()
}
