package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"strikePilot/internal/adapters/logger" // Import the logger package for LogLevel
	"strikePilot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Pipeline
	Cadence        time.Duration // Snapshot publication cadence
	FetchTimeout   time.Duration // Per-fetch deadline inside a cycle
	ComputeWorkers int           // Bounded per-strike probability fan-out
	Interpolation  string        // Surface lookup scheme: "nearest" or "bilinear"

	// Auto entry
	LiveTradingEnabled     bool    // Orders reach the broker only when true
	EntryThreshold         float64 // Minimum probability to enter
	ExitThreshold          float64 // Probability below which open trades close
	OrderSize              int64   // Contracts per entry
	MaxConcurrentPositions int
	RequireMomentumAgree   bool

	// Momentum
	MomentumPeriod      int     // Price window length for the momentum score
	MomentumBucketWidth float64 // Synthesized bucket width for instruments without explicit edges

	// Trade supervision
	FillTimeout        time.Duration // Pending older than this is flagged for review
	BrokerPollInterval time.Duration

	// Failure detection
	DegradedAfter time.Duration
	FatalAfter    time.Duration

	// Market API (event exchange)
	MarketAPIBaseURL string
	MarketAPIToken   string
	MarketAPIRPS     float64

	// Binance price feed
	IsTestnet bool

	// Storage
	DBPath          string
	FingerprintDir  string
	InstrumentsPath string

	// Observability
	LogLevel    logger.LogLevel // Use the LogLevel type from the logger adapter
	MetricsAddr string          // Empty disables the metrics endpoint
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Pipeline
	cadenceSeconds, err := getEnvAsFloatRequired("CADENCE_SECONDS", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CADENCE_SECONDS: %v", err))
	} else if cadenceSeconds <= 0 {
		errs = append(errs, "CADENCE_SECONDS must be positive")
	}
	cfg.Cadence = time.Duration(cadenceSeconds * float64(time.Second))

	cfg.FetchTimeout, err = getEnvAsDuration("FETCH_TIMEOUT", cfg.Cadence/2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FETCH_TIMEOUT: %v", err))
	} else if cfg.FetchTimeout <= 0 || cfg.FetchTimeout >= cfg.Cadence {
		errs = append(errs, "FETCH_TIMEOUT must be positive and shorter than the cadence")
	}

	cfg.ComputeWorkers = getEnvAsInt("COMPUTE_WORKERS", 8)
	if cfg.ComputeWorkers <= 0 {
		errs = append(errs, "COMPUTE_WORKERS must be positive")
	}

	cfg.Interpolation = getEnv("PROBABILITY_INTERPOLATION", "nearest")
	if cfg.Interpolation != "nearest" && cfg.Interpolation != "bilinear" {
		errs = append(errs, "PROBABILITY_INTERPOLATION must be 'nearest' or 'bilinear'")
	}

	// Auto entry. Live trading defaults OFF: flipping it on is an explicit
	// operator action, never a default.
	cfg.LiveTradingEnabled = getEnvAsBool("LIVE_TRADING_ENABLED", false)

	cfg.EntryThreshold, err = getEnvAsFloatRequired("ENTRY_PROBABILITY_THRESHOLD", 0.85)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_PROBABILITY_THRESHOLD: %v", err))
	} else if cfg.EntryThreshold <= 0 || cfg.EntryThreshold > 1.0 {
		errs = append(errs, "ENTRY_PROBABILITY_THRESHOLD must be within (0.0, 1.0]")
	}

	cfg.ExitThreshold, err = getEnvAsFloatRequired("EXIT_PROBABILITY_THRESHOLD", 0.25)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXIT_PROBABILITY_THRESHOLD: %v", err))
	} else if cfg.ExitThreshold < 0 || cfg.ExitThreshold >= cfg.EntryThreshold {
		errs = append(errs, "EXIT_PROBABILITY_THRESHOLD must be non-negative and below ENTRY_PROBABILITY_THRESHOLD")
	}

	orderSize, err := getEnvAsIntRequired("ORDER_SIZE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDER_SIZE: %v", err))
	} else if orderSize <= 0 {
		errs = append(errs, "ORDER_SIZE must be positive")
	}
	cfg.OrderSize = int64(orderSize)

	cfg.MaxConcurrentPositions, err = getEnvAsIntRequired("MAX_CONCURRENT_POSITIONS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CONCURRENT_POSITIONS: %v", err))
	} else if cfg.MaxConcurrentPositions <= 0 {
		errs = append(errs, "MAX_CONCURRENT_POSITIONS must be positive")
	}

	cfg.RequireMomentumAgree = getEnvAsBool("REQUIRE_MOMENTUM_AGREEMENT", true)

	// Momentum
	cfg.MomentumPeriod = getEnvAsInt("MOMENTUM_PERIOD", 20)
	if cfg.MomentumPeriod < 2 {
		errs = append(errs, "MOMENTUM_PERIOD must be at least 2")
	}

	cfg.MomentumBucketWidth, err = getEnvAsFloatRequired("MOMENTUM_BUCKET_WIDTH", 25.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MOMENTUM_BUCKET_WIDTH: %v", err))
	} else if cfg.MomentumBucketWidth <= 0 {
		errs = append(errs, "MOMENTUM_BUCKET_WIDTH must be positive")
	}

	// Trade supervision
	cfg.FillTimeout, err = getEnvAsDuration("FILL_TIMEOUT", 2*time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FILL_TIMEOUT: %v", err))
	} else if cfg.FillTimeout <= 0 {
		errs = append(errs, "FILL_TIMEOUT must be positive")
	}

	cfg.BrokerPollInterval, err = getEnvAsDuration("BROKER_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BROKER_POLL_INTERVAL: %v", err))
	} else if cfg.BrokerPollInterval <= 0 {
		errs = append(errs, "BROKER_POLL_INTERVAL must be positive")
	}

	// Failure detection
	cfg.DegradedAfter, err = getEnvAsDuration("DEGRADED_AFTER", 5*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEGRADED_AFTER: %v", err))
	} else if cfg.DegradedAfter <= 0 {
		errs = append(errs, "DEGRADED_AFTER must be positive")
	}

	cfg.FatalAfter, err = getEnvAsDuration("FATAL_AFTER", 30*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FATAL_AFTER: %v", err))
	} else if cfg.FatalAfter <= cfg.DegradedAfter {
		errs = append(errs, "FATAL_AFTER must be greater than DEGRADED_AFTER")
	}

	// Market API
	cfg.MarketAPIBaseURL = getEnv("MARKET_API_BASE_URL", "")
	if cfg.MarketAPIBaseURL == "" {
		errs = append(errs, "MARKET_API_BASE_URL must be set")
	}
	cfg.MarketAPIToken = getEnv("MARKET_API_TOKEN", "")
	if cfg.LiveTradingEnabled && cfg.MarketAPIToken == "" {
		errs = append(errs, "MARKET_API_TOKEN must be set when LIVE_TRADING_ENABLED=true")
	}
	cfg.MarketAPIRPS = getEnvAsFloat("MARKET_API_RPS", 10.0)
	if cfg.MarketAPIRPS <= 0 {
		errs = append(errs, "MARKET_API_RPS must be positive")
	}

	// Binance price feed
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/strike_pilot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.FingerprintDir = getEnv("FINGERPRINT_DIR", "./data/fingerprints")
	if cfg.FingerprintDir == "" {
		errs = append(errs, "FINGERPRINT_DIR must be set")
	}
	cfg.InstrumentsPath = getEnv("INSTRUMENTS_PATH", "./config/instruments.yaml")
	if cfg.InstrumentsPath == "" {
		errs = append(errs, "INSTRUMENTS_PATH must be set")
	}

	// Observability
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Instrument table ---

type instrumentsFile struct {
	Instruments []instrumentEntry `yaml:"instruments"`
}

type instrumentEntry struct {
	Symbol           string    `yaml:"symbol"`
	UnderlyingSymbol string    `yaml:"underlying_symbol"`
	BucketEdges      []float64 `yaml:"momentum_bucket_edges"`
	BucketCount      int       `yaml:"momentum_buckets"`
}

// LoadInstruments parses the instrument table from a YAML file. Instruments
// may declare explicit momentum bucket edges; those without get symmetric
// buckets of the given width centered on zero.
func LoadInstruments(path string, bucketWidth float64) (domain.InstrumentTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument table %s: %w", path, err)
	}

	var file instrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing instrument table %s: %w", path, err)
	}
	if len(file.Instruments) == 0 {
		return nil, fmt.Errorf("instrument table %s declares no instruments", path)
	}

	table := make(domain.InstrumentTable, len(file.Instruments))
	for _, entry := range file.Instruments {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("instrument table %s: instrument without a symbol", path)
		}
		if entry.UnderlyingSymbol == "" {
			return nil, fmt.Errorf("instrument %s: underlying_symbol must be set", entry.Symbol)
		}
		sym := domain.Instrument(entry.Symbol)
		if _, exists := table[sym]; exists {
			return nil, fmt.Errorf("instrument %s declared twice", entry.Symbol)
		}

		edges := entry.BucketEdges
		if len(edges) == 0 {
			count := entry.BucketCount
			if count == 0 {
				count = 5
			}
			edges = symmetricEdges(count, bucketWidth)
		}
		if len(edges) < 2 {
			return nil, fmt.Errorf("instrument %s: at least two bucket edges required", entry.Symbol)
		}
		if !sort.Float64sAreSorted(edges) || hasDuplicateEdges(edges) {
			return nil, fmt.Errorf("instrument %s: bucket edges must be strictly increasing", entry.Symbol)
		}

		table[sym] = domain.InstrumentSpec{
			Symbol:           sym,
			UnderlyingSymbol: entry.UnderlyingSymbol,
			BucketEdges:      edges,
		}
	}
	return table, nil
}

// symmetricEdges builds count+1 edges of the given width centered on zero,
// so the middle bucket straddles zero momentum.
func symmetricEdges(count int, width float64) []float64 {
	edges := make([]float64, count+1)
	lo := -float64(count) * width / 2
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	return edges
}

func hasDuplicateEdges(edges []float64) bool {
	for i := 1; i < len(edges); i++ {
		if edges[i] == edges[i-1] {
			return true
		}
	}
	return false
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration parses durations in Go syntax ("500ms", "2m"). Bare
// numbers are treated as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
