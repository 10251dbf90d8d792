package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"strikePilot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBaseEnv sets the minimal environment LoadConfig needs.
func withBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MARKET_API_BASE_URL", "https://api.example.test")
}

func TestLoadConfigDefaults(t *testing.T) {
	withBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Cadence)
	assert.Equal(t, 500*time.Millisecond, cfg.FetchTimeout)
	assert.Equal(t, 8, cfg.ComputeWorkers)
	assert.Equal(t, "nearest", cfg.Interpolation)
	assert.False(t, cfg.LiveTradingEnabled, "live trading must default off")
	assert.Equal(t, 0.85, cfg.EntryThreshold)
	assert.Equal(t, 0.25, cfg.ExitThreshold)
	assert.Equal(t, int64(1), cfg.OrderSize)
	assert.Equal(t, 3, cfg.MaxConcurrentPositions)
	assert.True(t, cfg.RequireMomentumAgree)
	assert.Equal(t, 2*time.Minute, cfg.FillTimeout)
	assert.Equal(t, 5*time.Second, cfg.DegradedAfter)
	assert.Equal(t, 30*time.Second, cfg.FatalAfter)
	assert.True(t, cfg.IsTestnet, "price feed must default to testnet")
	assert.Equal(t, "./data/strike_pilot.db", cfg.DBPath)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		errText string
	}{
		{
			name:    "missing base URL",
			env:     map[string]string{"MARKET_API_BASE_URL": ""},
			errText: "MARKET_API_BASE_URL",
		},
		{
			name:    "live trading without token",
			env:     map[string]string{"LIVE_TRADING_ENABLED": "true"},
			errText: "MARKET_API_TOKEN",
		},
		{
			name:    "fetch timeout not shorter than cadence",
			env:     map[string]string{"CADENCE_SECONDS": "1", "FETCH_TIMEOUT": "1500ms"},
			errText: "FETCH_TIMEOUT",
		},
		{
			name:    "exit threshold above entry threshold",
			env:     map[string]string{"ENTRY_PROBABILITY_THRESHOLD": "0.5", "EXIT_PROBABILITY_THRESHOLD": "0.6"},
			errText: "EXIT_PROBABILITY_THRESHOLD",
		},
		{
			name:    "negative cadence",
			env:     map[string]string{"CADENCE_SECONDS": "-2"},
			errText: "CADENCE_SECONDS",
		},
		{
			name:    "fatal not after degraded",
			env:     map[string]string{"DEGRADED_AFTER": "30s", "FATAL_AFTER": "10s"},
			errText: "FATAL_AFTER",
		},
		{
			name:    "unknown interpolation mode",
			env:     map[string]string{"PROBABILITY_INTERPOLATION": "cubic"},
			errText: "PROBABILITY_INTERPOLATION",
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"FILL_TIMEOUT": "soon"},
			errText: "FILL_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoadConfigDurationForms(t *testing.T) {
	withBaseEnv(t)
	t.Setenv("FILL_TIMEOUT", "90")       // bare number means seconds
	t.Setenv("BROKER_POLL_INTERVAL", "250ms") // Go duration syntax

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.FillTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.BrokerPollInterval)
}

func writeInstrumentsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadInstrumentsExplicitEdges(t *testing.T) {
	path := writeInstrumentsFile(t, `
instruments:
  - symbol: BTCUSD-1H
    underlying_symbol: BTCUSDT
    momentum_bucket_edges: [-75, -25, -5, 5, 25, 75]
`)
	table, err := LoadInstruments(path, 25.0)
	require.NoError(t, err)
	require.Len(t, table, 1)

	spec, ok := table.Lookup(domain.Instrument("BTCUSD-1H"))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", spec.UnderlyingSymbol)
	assert.Equal(t, []float64{-75, -25, -5, 5, 25, 75}, spec.BucketEdges)
	assert.Equal(t, 5, spec.BucketCount())
}

func TestLoadInstrumentsSynthesizedEdges(t *testing.T) {
	path := writeInstrumentsFile(t, `
instruments:
  - symbol: ETHUSD-1H
    underlying_symbol: ETHUSDT
    momentum_buckets: 4
`)
	table, err := LoadInstruments(path, 10.0)
	require.NoError(t, err)

	spec, ok := table.Lookup(domain.Instrument("ETHUSD-1H"))
	require.True(t, ok)
	// Four buckets of width 10 centered on zero.
	assert.Equal(t, []float64{-20, -10, 0, 10, 20}, spec.BucketEdges)
}

func TestLoadInstrumentsDefaultBucketCount(t *testing.T) {
	path := writeInstrumentsFile(t, `
instruments:
  - symbol: SOLUSD-1H
    underlying_symbol: SOLUSDT
`)
	table, err := LoadInstruments(path, 25.0)
	require.NoError(t, err)

	spec, ok := table.Lookup(domain.Instrument("SOLUSD-1H"))
	require.True(t, ok)
	assert.Equal(t, 5, spec.BucketCount())
	assert.Equal(t, -62.5, spec.BucketEdges[0])
	assert.Equal(t, 62.5, spec.BucketEdges[len(spec.BucketEdges)-1])
}

func TestLoadInstrumentsRejectsBadTables(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty table", "instruments: []\n"},
		{"missing symbol", "instruments:\n  - underlying_symbol: BTCUSDT\n"},
		{"missing underlying", "instruments:\n  - symbol: BTCUSD-1H\n"},
		{
			"duplicate symbol",
			"instruments:\n" +
				"  - symbol: BTCUSD-1H\n    underlying_symbol: BTCUSDT\n" +
				"  - symbol: BTCUSD-1H\n    underlying_symbol: BTCUSDT\n",
		},
		{
			"unsorted edges",
			"instruments:\n  - symbol: BTCUSD-1H\n    underlying_symbol: BTCUSDT\n    momentum_bucket_edges: [10, -10, 0]\n",
		},
		{
			"duplicate edges",
			"instruments:\n  - symbol: BTCUSD-1H\n    underlying_symbol: BTCUSDT\n    momentum_bucket_edges: [-10, 0, 0, 10]\n",
		},
		{
			"single edge",
			"instruments:\n  - symbol: BTCUSD-1H\n    underlying_symbol: BTCUSDT\n    momentum_bucket_edges: [0]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeInstrumentsFile(t, tt.content)
			_, err := LoadInstruments(path, 25.0)
			assert.Error(t, err)
		})
	}
}

func TestLoadInstrumentsMissingFile(t *testing.T) {
	_, err := LoadInstruments(filepath.Join(t.TempDir(), "nope.yaml"), 25.0)
	assert.Error(t, err)
}
