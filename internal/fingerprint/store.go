package fingerprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"strikePilot/internal/domain"
	"strikePilot/internal/ports"

	"github.com/goccy/go-json"
)

// Store holds the full set of fingerprint surfaces, keyed by instrument and
// momentum bucket. The set is loaded once at startup; Reload replaces the
// whole set with a single atomic pointer swap so concurrent readers never
// observe a partially updated collection.
type Store struct {
	dir         string
	instruments domain.InstrumentTable
	logger      ports.Logger
	surfaces    atomic.Pointer[surfaceSet]
}

// surfaceSet is an immutable snapshot of all loaded surfaces.
type surfaceSet struct {
	byInstrument map[domain.Instrument][]*Surface // indexed by momentum bucket
}

// Config holds configuration for the fingerprint store.
type Config struct {
	Dir         string // Root directory: <dir>/<instrument>/bucket_<n>.json
	Instruments domain.InstrumentTable
	Logger      ports.Logger
}

// NewStore creates a store and performs the initial load.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for fingerprint store")
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", ports.ErrConfigurationError)
	}
	s := &Store{
		dir:         cfg.Dir,
		instruments: cfg.Instruments,
		logger:      cfg.Logger,
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every surface file and atomically swaps the active set.
// On any validation or read error the previous set stays in place.
func (s *Store) Reload(ctx context.Context) error {
	next := &surfaceSet{byInstrument: make(map[domain.Instrument][]*Surface, len(s.instruments))}

	for sym, spec := range s.instruments {
		buckets := spec.BucketCount()
		if buckets == 0 {
			return fmt.Errorf("%w: instrument %s has no momentum buckets", ports.ErrConfigurationError, sym)
		}
		loaded := make([]*Surface, buckets)
		for b := 0; b < buckets; b++ {
			path := filepath.Join(s.dir, string(sym), fmt.Sprintf("bucket_%d.json", b))
			surface, err := loadSurfaceFile(path)
			if err != nil {
				return fmt.Errorf("loading surface for %s bucket %d: %w", sym, b, err)
			}
			if surface.Instrument != sym || surface.MomentumBucket != b {
				return fmt.Errorf("%w: file %s declares %s/%d",
					ports.ErrSurfaceInvalid, path, surface.Instrument, surface.MomentumBucket)
			}
			loaded[b] = surface
		}
		next.byInstrument[sym] = loaded
	}

	s.surfaces.Store(next)
	s.logger.Info(ctx, "Fingerprint surfaces loaded", map[string]interface{}{
		"dir": s.dir, "instruments": len(next.byInstrument),
	})
	return nil
}

// Select returns the surface for the momentum bucket containing score.
func (s *Store) Select(instrument domain.Instrument, momentum float64) (*Surface, error) {
	spec, ok := s.instruments.Lookup(instrument)
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s not configured", ports.ErrSurfaceNotFound, instrument)
	}
	set := s.surfaces.Load()
	loaded, ok := set.byInstrument[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s has no loaded surfaces", ports.ErrSurfaceNotFound, instrument)
	}
	return loaded[spec.BucketFor(momentum)], nil
}

// loadSurfaceFile reads, decodes and validates one surface file.
func loadSurfaceFile(path string) (*Surface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var surface Surface
	if err := json.Unmarshal(data, &surface); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ports.ErrSurfaceInvalid, path, err)
	}
	if err := surface.Validate(); err != nil {
		return nil, err
	}
	return &surface, nil
}
