package fingerprint

import (
	"errors"
	"testing"

	"strikePilot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSurface() *Surface {
	return &Surface{
		Instrument:     "BTCUSD-1H",
		MomentumBucket: 0,
		TTCEdges:       []float64{0, 300, 900, 3600},
		DistanceEdges:  []float64{-0.02, -0.005, 0.005, 0.02},
		Grid: [][]float64{
			{0.1, 0.5, 0.9},
			{0.2, 0.5, 0.8},
			{0.3, 0.5, 0.7},
		},
	}
}

func TestSurfaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Surface)
		wantErr bool
	}{
		{name: "valid surface", mutate: func(s *Surface) {}, wantErr: false},
		{name: "too few ttc edges", mutate: func(s *Surface) { s.TTCEdges = []float64{0} }, wantErr: true},
		{name: "too few distance edges", mutate: func(s *Surface) { s.DistanceEdges = []float64{0.01} }, wantErr: true},
		{name: "non increasing ttc edges", mutate: func(s *Surface) { s.TTCEdges = []float64{0, 900, 300, 3600} }, wantErr: true},
		{name: "duplicate distance edges", mutate: func(s *Surface) { s.DistanceEdges = []float64{-0.02, 0.005, 0.005, 0.02} }, wantErr: true},
		{name: "row count mismatch", mutate: func(s *Surface) { s.Grid = s.Grid[:2] }, wantErr: true},
		{name: "col count mismatch", mutate: func(s *Surface) { s.Grid[1] = []float64{0.2, 0.5} }, wantErr: true},
		{name: "probability above one", mutate: func(s *Surface) { s.Grid[0][0] = 1.01 }, wantErr: true},
		{name: "negative probability", mutate: func(s *Surface) { s.Grid[2][2] = -0.01 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSurface()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ports.ErrSurfaceInvalid))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSurfaceBucketLookup(t *testing.T) {
	s := validSurface()

	tests := []struct {
		name    string
		ttc     float64
		dist    float64
		wantRow int
		wantCol int
	}{
		{name: "interior", ttc: 500, dist: 0, wantRow: 1, wantCol: 1},
		{name: "first buckets", ttc: 100, dist: -0.01, wantRow: 0, wantCol: 0},
		{name: "last buckets", ttc: 2000, dist: 0.01, wantRow: 2, wantCol: 2},
		{name: "below range clamps low", ttc: -5, dist: -1, wantRow: 0, wantCol: 0},
		{name: "above range clamps high", ttc: 7200, dist: 1, wantRow: 2, wantCol: 2},
		{name: "on lowest edge", ttc: 0, dist: -0.02, wantRow: 0, wantCol: 0},
		{name: "on highest edge", ttc: 3600, dist: 0.02, wantRow: 2, wantCol: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRow, s.TTCBucket(tt.ttc))
			assert.Equal(t, tt.wantCol, s.DistanceBucket(tt.dist))
		})
	}
}

func TestCenter(t *testing.T) {
	edges := []float64{0, 300, 900}
	assert.InDelta(t, 150, Center(edges, 0), 1e-12)
	assert.InDelta(t, 600, Center(edges, 1), 1e-12)
}
