// Package momentum scores recent underlying price action. The score drives
// fingerprint surface selection: positive values mean upward drift over the
// window, negative values downward, with magnitude scaled by the exponential
// weighting below.
package momentum

import (
	"fmt"
)

// Config holds configuration for the momentum calculator.
type Config struct {
	// Period is the number of price samples the score looks back over.
	Period int
	// Smoothing controls the EMA weighting of per-sample returns.
	// Defaults to the conventional 2/(period+1) when zero.
	Smoothing float64
}

// Calculator computes a momentum score from a window of close prices.
type Calculator struct {
	period    int
	smoothing float64
}

// New creates a momentum calculator.
func New(cfg Config) (*Calculator, error) {
	if cfg.Period < 2 {
		return nil, fmt.Errorf("momentum period must be at least 2, got %d", cfg.Period)
	}
	smoothing := cfg.Smoothing
	if smoothing == 0 {
		smoothing = 2.0 / (float64(cfg.Period) + 1)
	}
	if smoothing <= 0 || smoothing >= 1 {
		return nil, fmt.Errorf("momentum smoothing must be in (0,1), got %f", smoothing)
	}
	return &Calculator{period: cfg.Period, smoothing: smoothing}, nil
}

// RequiredDataPoints returns the minimum number of prices Score needs.
func (c *Calculator) RequiredDataPoints() int {
	return c.period
}

// Score returns the exponentially weighted mean of per-sample relative
// returns over the last period prices, expressed per ten-thousand (so a
// steady +1 bp/sample drift scores about +1). Oldest price first.
func (c *Calculator) Score(prices []float64) (float64, error) {
	if len(prices) < c.period {
		return 0, fmt.Errorf("not enough data (%d) to score momentum for period %d", len(prices), c.period)
	}
	window := prices[len(prices)-c.period:]

	var ema float64
	seeded := false
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			return 0, fmt.Errorf("zero price in momentum window at offset %d", i-1)
		}
		ret := (window[i] - window[i-1]) / window[i-1]
		if !seeded {
			ema = ret
			seeded = true
			continue
		}
		ema = ret*c.smoothing + ema*(1-c.smoothing)
	}
	return ema * 10000, nil
}
