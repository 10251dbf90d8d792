// Package probability computes outcome probabilities for strikes by
// interpolating over precomputed fingerprint surfaces. All functions are
// pure: no I/O, safe for concurrent use over immutable surfaces.
package probability

import (
	"fmt"
	"sort"
	"time"

	"strikePilot/internal/fingerprint"
)

// Mode selects the interpolation scheme.
type Mode string

const (
	// ModeNearest returns the value of the bucket containing the query.
	ModeNearest Mode = "nearest"
	// ModeBilinear interpolates between the four surrounding bucket centers.
	ModeBilinear Mode = "bilinear"
)

// Engine evaluates probabilities against fingerprint surfaces.
type Engine struct {
	mode Mode
}

// New creates an engine for the given interpolation mode.
func New(mode Mode) (*Engine, error) {
	switch mode {
	case ModeNearest, ModeBilinear:
		return &Engine{mode: mode}, nil
	case "":
		return &Engine{mode: ModeNearest}, nil
	default:
		return nil, fmt.Errorf("unknown interpolation mode %q", mode)
	}
}

// Probability returns the outcome probability for a strike at the given
// time-to-close and relative distance from the underlying price. Queries
// outside the surface's domain clamp to the nearest edge bucket; the result
// is always within [0,1] and the call never fails.
func (e *Engine) Probability(s *fingerprint.Surface, ttc time.Duration, distance float64) float64 {
	ttcSeconds := ttc.Seconds()
	if e.mode == ModeNearest {
		return s.At(s.TTCBucket(ttcSeconds), s.DistanceBucket(distance))
	}

	rowLo, rowFrac := axisPosition(s.TTCEdges, ttcSeconds)
	colLo, colFrac := axisPosition(s.DistanceEdges, distance)

	// Single-bucket axes collapse to the same index (frac is 0 there).
	rowHi := min(rowLo+1, len(s.TTCEdges)-2)
	colHi := min(colLo+1, len(s.DistanceEdges)-2)

	p00 := s.At(rowLo, colLo)
	p01 := s.At(rowLo, colHi)
	p10 := s.At(rowHi, colLo)
	p11 := s.At(rowHi, colHi)

	top := p00*(1-colFrac) + p01*colFrac
	bottom := p10*(1-colFrac) + p11*colFrac
	return top*(1-rowFrac) + bottom*rowFrac
}

// axisPosition locates v between two adjacent bucket centers along an axis
// with the given edges: it returns the lower bucket index and the fractional
// position toward the next bucket's center. Values outside the span of
// centers clamp to the nearest end, matching the edge-clamp boundary policy.
func axisPosition(edges []float64, v float64) (lo int, frac float64) {
	buckets := len(edges) - 1
	if buckets < 2 {
		return 0, 0
	}
	first := fingerprint.Center(edges, 0)
	last := fingerprint.Center(edges, buckets-1)
	if v <= first {
		return 0, 0
	}
	if v >= last {
		return buckets - 2, 1
	}
	// Smallest i with center(i+1) >= v; v lies between centers i and i+1.
	lo = sort.Search(buckets-1, func(i int) bool {
		return fingerprint.Center(edges, i+1) >= v
	})
	cLo := fingerprint.Center(edges, lo)
	cHi := fingerprint.Center(edges, lo+1)
	return lo, (v - cLo) / (cHi - cLo)
}
