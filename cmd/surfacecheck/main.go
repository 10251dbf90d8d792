// Command surfacecheck validates a fingerprint surface directory offline:
// it loads every surface for every configured instrument and reports what a
// production startup would reject.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"strikePilot/config"
	"strikePilot/internal/adapters/logger"
	"strikePilot/internal/fingerprint"
)

func main() {
	dir := flag.String("dir", "./data/fingerprints", "fingerprint surface directory")
	instrumentsPath := flag.String("instruments", "./config/instruments.yaml", "instrument table file")
	bucketWidth := flag.Float64("bucket-width", 25.0, "synthesized momentum bucket width for instruments without explicit edges")
	logLevel := flag.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))

	instruments, err := config.LoadInstruments(*instrumentsPath, *bucketWidth)
	if err != nil {
		log.Fatalf("FATAL: Failed to load instrument table: %v", err)
	}

	// NewStore performs the same load and validation as production startup.
	_, err = fingerprint.NewStore(fingerprint.Config{
		Dir:         *dir,
		Instruments: instruments,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "Surface directory failed validation", map[string]interface{}{"dir": *dir})
		os.Exit(1)
	}

	for sym, spec := range instruments {
		fmt.Printf("%s: %d momentum buckets OK\n", sym, spec.BucketCount())
	}
	fmt.Println("surface directory is valid")
}
