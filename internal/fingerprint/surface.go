package fingerprint

import (
	"fmt"
	"sort"

	"strikePilot/internal/domain"
	"strikePilot/internal/ports"
)

// Surface is one precomputed probability grid for a single
// (instrument, momentum bucket) pair: time-to-close buckets on one axis,
// relative strike distance buckets on the other. Surfaces are immutable
// after Validate and safe for unsynchronized concurrent reads.
type Surface struct {
	Instrument     domain.Instrument `json:"instrument"`
	MomentumBucket int               `json:"momentum_bucket"`
	// TTCEdges holds n+1 strictly increasing bucket edges in seconds for n
	// time-to-close buckets.
	TTCEdges []float64 `json:"ttc_edges_seconds"`
	// DistanceEdges holds m+1 strictly increasing relative-distance edges
	// for m distance buckets.
	DistanceEdges []float64 `json:"distance_edges"`
	// Grid is row-major: Grid[ttcBucket][distanceBucket], each value in [0,1].
	Grid [][]float64 `json:"grid"`
}

// Validate checks grid dimensions, edge ordering, and probability bounds.
func (s *Surface) Validate() error {
	if len(s.TTCEdges) < 2 || len(s.DistanceEdges) < 2 {
		return fmt.Errorf("%w: surface %s/%d needs at least one bucket per axis",
			ports.ErrSurfaceInvalid, s.Instrument, s.MomentumBucket)
	}
	if !strictlyIncreasing(s.TTCEdges) || !strictlyIncreasing(s.DistanceEdges) {
		return fmt.Errorf("%w: surface %s/%d has non-increasing bucket edges",
			ports.ErrSurfaceInvalid, s.Instrument, s.MomentumBucket)
	}
	rows := len(s.TTCEdges) - 1
	cols := len(s.DistanceEdges) - 1
	if len(s.Grid) != rows {
		return fmt.Errorf("%w: surface %s/%d grid has %d rows, expected %d",
			ports.ErrSurfaceInvalid, s.Instrument, s.MomentumBucket, len(s.Grid), rows)
	}
	for i, row := range s.Grid {
		if len(row) != cols {
			return fmt.Errorf("%w: surface %s/%d row %d has %d cols, expected %d",
				ports.ErrSurfaceInvalid, s.Instrument, s.MomentumBucket, i, len(row), cols)
		}
		for j, p := range row {
			if p < 0 || p > 1 {
				return fmt.Errorf("%w: surface %s/%d cell (%d,%d) = %f outside [0,1]",
					ports.ErrSurfaceInvalid, s.Instrument, s.MomentumBucket, i, j, p)
			}
		}
	}
	return nil
}

// TTCBucket returns the row index for a time-to-close in seconds, clamped to
// the grid domain.
func (s *Surface) TTCBucket(ttcSeconds float64) int {
	return bucketIndex(s.TTCEdges, ttcSeconds)
}

// DistanceBucket returns the column index for a relative distance, clamped
// to the grid domain.
func (s *Surface) DistanceBucket(distance float64) int {
	return bucketIndex(s.DistanceEdges, distance)
}

// At returns the grid probability for a (row, col) pair. Indices are assumed
// to come from TTCBucket/DistanceBucket and are therefore in range.
func (s *Surface) At(row, col int) float64 {
	return s.Grid[row][col]
}

// Center returns the midpoint of bucket i over the given edges.
func Center(edges []float64, i int) float64 {
	return (edges[i] + edges[i+1]) / 2
}

// bucketIndex locates the bucket containing v, clamping values outside the
// edge range to the first or last bucket.
func bucketIndex(edges []float64, v float64) int {
	n := len(edges) - 1
	if v <= edges[0] {
		return 0
	}
	if v >= edges[n] {
		return n - 1
	}
	// Smallest i such that edges[1+i] >= v, i.e. the bucket whose upper
	// edge first reaches v.
	return sort.SearchFloat64s(edges[1:], v)
}

func strictlyIncreasing(vals []float64) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return false
		}
	}
	return true
}
