package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"strikePilot/internal/domain"
	"strikePilot/internal/fingerprint"
	"strikePilot/internal/ports"
	"strikePilot/internal/probability"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockMarket implements ports.MarketSnapshotSource with a switchable failure.
type mockMarket struct {
	mu     sync.Mutex
	quotes []domain.StrikeQuote
	err    error
}

func (m *mockMarket) CurrentStrikes(ctx context.Context, instrument domain.Instrument) ([]domain.StrikeQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.quotes, nil
}

func (m *mockMarket) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// mockPrices implements ports.PriceSource.
type mockPrices struct {
	mu       sync.Mutex
	price    float64
	momentum float64
	err      error
}

func (m *mockPrices) CurrentPriceAndMomentum(ctx context.Context, symbol string) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	return m.price, m.momentum, nil
}

// mockHealth implements ports.HealthReporter, recording calls.
type mockHealth struct {
	mu     sync.Mutex
	beats  int
	errors []error
	fatals []error
}

func (m *mockHealth) Beat(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats++
}

func (m *mockHealth) ReportError(component string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockHealth) ReportFatal(component string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatals = append(m.fatals, err)
}

func (m *mockHealth) fatalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fatals)
}

var testInstruments = domain.InstrumentTable{
	"BTCUSD-1H": {
		Symbol:           "BTCUSD-1H",
		UnderlyingSymbol: "BTCUSDT",
		BucketEdges:      []float64{-50, 0, 50},
	},
}

// setupSurfaces writes a minimal surface set and loads it into a store.
func setupSurfaces(t *testing.T) *fingerprint.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "coordinator-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	for bucket, prob := range map[int]float64{0: 0.3, 1: 0.7} {
		s := &fingerprint.Surface{
			Instrument:     "BTCUSD-1H",
			MomentumBucket: bucket,
			TTCEdges:       []float64{0, 1800, 3600},
			DistanceEdges:  []float64{-0.05, 0, 0.05},
			Grid:           [][]float64{{prob, prob}, {prob, prob}},
		}
		data, err := json.Marshal(s)
		require.NoError(t, err)
		instDir := filepath.Join(dir, "BTCUSD-1H")
		require.NoError(t, os.MkdirAll(instDir, 0o755))
		require.NoError(t, os.WriteFile(
			filepath.Join(instDir, fmt.Sprintf("bucket_%d.json", bucket)), data, 0o644))
	}

	store, err := fingerprint.NewStore(fingerprint.Config{
		Dir: dir, Instruments: testInstruments, Logger: &mockLogger{},
	})
	require.NoError(t, err)
	return store
}

func testQuotes() []domain.StrikeQuote {
	return []domain.StrikeQuote{
		{Instrument: "BTCUSD-1H", Ticker: "BTC-65000", StrikePrice: 65000, Side: domain.SideYes, TimeToClose: 20 * time.Minute, UnderlyingPrice: 64000, AskPrice: 0.6},
		{Instrument: "BTCUSD-1H", Ticker: "BTC-65000", StrikePrice: 65000, Side: domain.SideNo, TimeToClose: 20 * time.Minute, UnderlyingPrice: 64000, AskPrice: 0.45},
	}
}

func newTestCoordinator(t *testing.T, market *mockMarket, prices *mockPrices, health *mockHealth) *Coordinator {
	t.Helper()
	engine, err := probability.New(probability.ModeNearest)
	require.NoError(t, err)
	c, err := New(Config{
		Cadence:       time.Second,
		EscalateAfter: 3,
	}, &mockLogger{}, testInstruments, market, prices, setupSurfaces(t), engine, health)
	require.NoError(t, err)
	return c
}

func TestCycleProducesSnapshot(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000, momentum: 12}
	c := newTestCoordinator(t, market, prices, &mockHealth{})
	ctx := context.Background()

	require.Nil(t, c.Latest())
	c.runCycle(ctx)

	snap := c.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.False(t, snap.Stale)
	assert.Equal(t, 12.0, snap.Momentum["BTCUSD-1H"])
	require.Len(t, snap.Entries, 2)
	// Positive momentum selects bucket 1, whose grid is constant 0.7.
	for _, entry := range snap.Entries {
		assert.Equal(t, 0.7, entry.Probability)
	}
}

func TestSequencesStrictlyIncreasing(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000, momentum: -12}
	c := newTestCoordinator(t, market, prices, &mockHealth{})
	ctx := context.Background()

	// Concurrent readers race Latest against publishes; every reader must see
	// non-decreasing sequences and every published sequence must be +1.
	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var last uint64
			for {
				select {
				case <-done:
					return
				default:
				}
				if snap := c.Latest(); snap != nil {
					if snap.Sequence < last {
						t.Error("sequence went backwards")
						return
					}
					last = snap.Sequence
				}
			}
		}()
	}

	const cycles = 1000
	for i := 0; i < cycles; i++ {
		// Every third cycle fails, forcing a stale republish: the sequence
		// must advance regardless.
		if i%3 == 2 {
			market.setErr(ports.ErrExchangeUnavailable)
		} else {
			market.setErr(nil)
		}
		c.runCycle(ctx)
		require.Equal(t, uint64(i+1), c.Latest().Sequence)
	}
	close(done)
	readers.Wait()
}

func TestFetchFailureRepublishesStale(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000, momentum: 5}
	c := newTestCoordinator(t, market, prices, &mockHealth{})
	ctx := context.Background()

	c.runCycle(ctx)
	fresh := c.Latest()
	require.NotNil(t, fresh)

	market.setErr(ports.ErrTimeout)
	c.runCycle(ctx)

	stale := c.Latest()
	require.NotNil(t, stale)
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.Sequence+1, stale.Sequence)
	// The stale republish keeps the original fetch time so consumers see the
	// true data age.
	assert.Equal(t, fresh.CreatedAt, stale.CreatedAt)
	assert.Equal(t, fresh.Entries, stale.Entries)
}

func TestFetchFailureBeforeFirstPublish(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	market.setErr(ports.ErrTimeout)
	c := newTestCoordinator(t, market, &mockPrices{price: 64000}, &mockHealth{})

	// With nothing published yet there is nothing to republish.
	c.runCycle(context.Background())
	assert.Nil(t, c.Latest())
}

func TestEscalationAfterConsecutiveFailures(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000}
	health := &mockHealth{}
	c := newTestCoordinator(t, market, prices, health)
	ctx := context.Background()

	market.setErr(ports.ErrExchangeUnavailable)
	c.runCycle(ctx)
	c.runCycle(ctx)
	assert.Equal(t, 0, health.fatalCount())

	c.runCycle(ctx)
	assert.Equal(t, 1, health.fatalCount())

	// Staying down does not re-report the same outage.
	c.runCycle(ctx)
	c.runCycle(ctx)
	assert.Equal(t, 1, health.fatalCount())
}

func TestRecoveryResetsFailureCount(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000}
	health := &mockHealth{}
	c := newTestCoordinator(t, market, prices, health)
	ctx := context.Background()

	market.setErr(ports.ErrExchangeUnavailable)
	c.runCycle(ctx)
	c.runCycle(ctx)

	market.setErr(nil)
	c.runCycle(ctx) // recovery

	market.setErr(ports.ErrExchangeUnavailable)
	c.runCycle(ctx)
	c.runCycle(ctx)
	assert.Equal(t, 0, health.fatalCount())

	c.runCycle(ctx)
	assert.Equal(t, 1, health.fatalCount())

	// A fresh outage after another recovery escalates again.
	market.setErr(nil)
	c.runCycle(ctx)
	market.setErr(ports.ErrExchangeUnavailable)
	c.runCycle(ctx)
	c.runCycle(ctx)
	c.runCycle(ctx)
	assert.Equal(t, 2, health.fatalCount())
}

func TestSubscribeReceivesPublishes(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000}
	c := newTestCoordinator(t, market, prices, &mockHealth{})
	ctx := context.Background()

	ch := c.Subscribe()
	c.runCycle(ctx)
	c.runCycle(ctx)

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestSlowSubscriberLosesOldestNotification(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000}
	c := newTestCoordinator(t, market, prices, &mockHealth{})
	ctx := context.Background()

	ch := c.Subscribe()
	// Publish more snapshots than the subscriber buffer holds without reading.
	for i := 0; i < subscriberBuffer+8; i++ {
		c.runCycle(ctx)
	}

	// The newest snapshot must still be delivered; the oldest were dropped.
	var last *domain.StrikeSnapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, uint64(subscriberBuffer+8), last.Sequence)
}

func TestRunSkipsTickDuringOverrun(t *testing.T) {
	market := &mockMarket{quotes: testQuotes()}
	prices := &mockPrices{price: 64000}
	engine, err := probability.New(probability.ModeNearest)
	require.NoError(t, err)
	c, err := New(Config{
		Cadence:      20 * time.Millisecond,
		FetchTimeout: 10 * time.Millisecond,
	}, &mockLogger{}, testInstruments, market, prices, setupSurfaces(t), engine, &mockHealth{})
	require.NoError(t, err)

	// Simulate a cycle that never finishes: with the flag held, ticks must
	// not start overlapping cycles.
	c.cycleRunning.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	assert.Nil(t, c.Latest(), "no cycle may run while another is in flight")
}
