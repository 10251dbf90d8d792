// Package app wires the pipeline components together and owns their
// lifecycle: startup recovery, goroutine supervision, and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"strikePilot/config"
	"strikePilot/internal/autoentry"
	"strikePilot/internal/coordinator"
	"strikePilot/internal/domain"
	"strikePilot/internal/failure"
	"strikePilot/internal/fingerprint"
	"strikePilot/internal/observ"
	"strikePilot/internal/ports"
	"strikePilot/internal/probability"
	"strikePilot/internal/supervisor"
)

// Deps bundles the adapters the service orchestrates. Broker and Market may
// be the same object (the market API client implements both ports).
type Deps struct {
	Instruments domain.InstrumentTable
	Market      ports.MarketSnapshotSource
	Broker      ports.BrokerGateway
	Prices      ports.PriceSource
	Ledger      ports.TradeLedger
	Surfaces    *fingerprint.Store
	Engine      *probability.Engine
	ProcSup     ports.ProcessSupervisor // may be nil
}

// Service orchestrates the snapshot pipeline, trade supervision, auto entry
// and failure detection.
type Service struct {
	cfg    *config.Config
	logger ports.Logger
	deps   Deps

	mu    sync.RWMutex
	coord *coordinator.Coordinator
	super *supervisor.Supervisor
}

// NewService creates the application service.
func NewService(cfg *config.Config, logger ports.Logger, deps Deps) (*Service, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if deps.Market == nil || deps.Broker == nil || deps.Prices == nil ||
		deps.Ledger == nil || deps.Surfaces == nil || deps.Engine == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if len(deps.Instruments) == 0 {
		return nil, fmt.Errorf("%w: at least one instrument must be configured", ports.ErrConfigurationError)
	}
	return &Service{cfg: cfg, logger: logger, deps: deps}, nil
}

// Start runs the service until the context is canceled, a shutdown signal
// arrives, or a component fails unrecoverably.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting service", map[string]interface{}{
		"cadence":     s.cfg.Cadence.String(),
		"liveTrading": s.cfg.LiveTradingEnabled,
		"instruments": len(s.deps.Instruments),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	detector := failure.New(failure.Config{
		DegradedAfter: s.cfg.DegradedAfter,
		FatalAfter:    s.cfg.FatalAfter,
	}, s.logger, s.deps.ProcSup)

	coord, err := coordinator.New(coordinator.Config{
		Cadence:        s.cfg.Cadence,
		FetchTimeout:   s.cfg.FetchTimeout,
		ComputeWorkers: s.cfg.ComputeWorkers,
	}, s.logger, s.deps.Instruments, s.deps.Market, s.deps.Prices, s.deps.Surfaces, s.deps.Engine, detector)
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	// Supervisor construction recovers the open-position projection from the
	// ledger, so in-flight trades survive a restart.
	super, err := supervisor.New(ctx, supervisor.Config{
		PollInterval: s.cfg.BrokerPollInterval,
		FillTimeout:  s.cfg.FillTimeout,
	}, s.logger, s.deps.Ledger, s.deps.Broker, detector)
	if err != nil {
		return fmt.Errorf("recovering trade state: %w", err)
	}
	s.logger.Info(ctx, "Trade state recovered", map[string]interface{}{
		"openPositions": len(super.OpenPositions()),
	})

	entry, err := autoentry.New(autoentry.Config{
		LiveEnabled:            s.cfg.LiveTradingEnabled,
		EntryThreshold:         s.cfg.EntryThreshold,
		ExitThreshold:          s.cfg.ExitThreshold,
		OrderSize:              s.cfg.OrderSize,
		MaxConcurrentPositions: s.cfg.MaxConcurrentPositions,
		RequireMomentumAgree:   s.cfg.RequireMomentumAgree,
	}, s.logger, s.deps.Ledger, s.deps.Broker, super, detector, detector)
	if err != nil {
		return fmt.Errorf("building auto-entry engine: %w", err)
	}

	detector.Register(coordinator.Component)
	detector.Register(supervisor.Component)
	detector.Register(autoentry.Component)

	s.mu.Lock()
	s.coord = coord
	s.super = super
	s.mu.Unlock()

	// The subscription must exist before the first publish so the engine
	// sees every snapshot from sequence 1.
	snapshots := coord.Subscribe()

	errCh := make(chan error, 4)
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	run("failure detector", detector.Run)
	run("coordinator", coord.Run)
	run("supervisor", super.Run)
	run("auto-entry engine", func(ctx context.Context) error {
		return entry.Run(ctx, snapshots)
	})

	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		metricsSrv = s.serveMetrics(ctx, errCh, cancel)
	}

	<-ctx.Done()
	s.logger.Info(ctx, "Shutting down service")

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "Metrics server shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		shutdownCancel()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		s.logger.Error(ctx, err, "Service stopped after component failure")
		return err
	default:
	}
	s.logger.Info(ctx, "Service stopped")
	return nil
}

// serveMetrics exposes the prometheus registry. A listener failure stops the
// service; silently losing observability on a trading system is worse than
// stopping.
func (s *Service) serveMetrics(ctx context.Context, errCh chan<- error, cancel context.CancelFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	s.logger.Info(ctx, "Serving metrics", map[string]interface{}{"addr": s.cfg.MetricsAddr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			cancel()
		}
	}()
	return srv
}

// LatestSnapshot returns the most recently published snapshot, or nil before
// the first publish (or before Start).
func (s *Service) LatestSnapshot() *domain.StrikeSnapshot {
	s.mu.RLock()
	coord := s.coord
	s.mu.RUnlock()
	if coord == nil {
		return nil
	}
	return coord.Latest()
}

// OpenPositions returns the supervisor's open-position projection.
func (s *Service) OpenPositions() []domain.ActiveTradePosition {
	s.mu.RLock()
	super := s.super
	s.mu.RUnlock()
	if super == nil {
		return nil
	}
	return super.OpenPositions()
}

// TradeHistory returns closed and live trades matching the filter, most
// recent first.
func (s *Service) TradeHistory(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	return s.deps.Ledger.History(ctx, filter)
}
