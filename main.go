package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"strikePilot/config"
	"strikePilot/internal/adapters/binanceclient"
	"strikePilot/internal/adapters/logger"
	"strikePilot/internal/adapters/marketapi"
	"strikePilot/internal/adapters/sqlite"
	"strikePilot/internal/app"
	"strikePilot/internal/fingerprint"
	"strikePilot/internal/momentum"
	"strikePilot/internal/probability"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Load Instrument Table
	instruments, err := config.LoadInstruments(cfg.InstrumentsPath, cfg.MomentumBucketWidth)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to load instrument table")
		log.Fatalf("FATAL: Failed to load instrument table: %v", err)
	}
	appLogger.Info(context.Background(), "Instrument table loaded", map[string]interface{}{"instruments": len(instruments)})

	// 4. Initialize Trade Ledger (Database Adapter)
	ledger, err := sqlite.NewLedger(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger.WithComponent("ledger"),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade ledger")
		log.Fatalf("FATAL: Failed to initialize trade ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade ledger")
		}
	}()
	appLogger.Info(context.Background(), "Trade ledger initialized")

	// 5. Load Fingerprint Surfaces
	surfaces, err := fingerprint.NewStore(fingerprint.Config{
		Dir:         cfg.FingerprintDir,
		Instruments: instruments,
		Logger:      appLogger.WithComponent("fingerprint"),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to load fingerprint surfaces")
		log.Fatalf("FATAL: Failed to load fingerprint surfaces: %v", err)
	}
	appLogger.Info(context.Background(), "Fingerprint surfaces loaded")

	// 6. Initialize Probability Engine
	engine, err := probability.New(probability.Mode(cfg.Interpolation))
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize probability engine")
		log.Fatalf("FATAL: Failed to initialize probability engine: %v", err)
	}

	// 7. Initialize Price Feed (Binance Adapter)
	momentumCalc, err := momentum.New(momentum.Config{Period: cfg.MomentumPeriod})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize momentum calculator")
		log.Fatalf("FATAL: Failed to initialize momentum calculator: %v", err)
	}
	priceFeed, err := binanceclient.New(binanceclient.Config{
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger.WithComponent("binance"),
		Momentum:   momentumCalc,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 8. Initialize Market API Client (snapshot source + broker gateway)
	marketClient, err := marketapi.New(marketapi.Config{
		BaseURL:           cfg.MarketAPIBaseURL,
		APIToken:          cfg.MarketAPIToken,
		RequestTimeout:    cfg.FetchTimeout,
		RequestsPerSecond: cfg.MarketAPIRPS,
		Logger:            appLogger.WithComponent("marketapi"),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market API client")
		log.Fatalf("FATAL: Failed to initialize market API client: %v", err)
	}
	appLogger.Info(context.Background(), "Market API client initialized")

	// 9. Initialize Application Service
	service, err := app.NewService(cfg, appLogger, app.Deps{
		Instruments: instruments,
		Market:      marketClient,
		Broker:      marketClient,
		Prices:      priceFeed,
		Ledger:      ledger,
		Surfaces:    surfaces,
		Engine:      engine,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}
	appLogger.Info(context.Background(), "Service initialized")

	// 10. Start the Service
	// Use context.Background() as the base context for the application run
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
