package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFor(t *testing.T) {
	// Five buckets: [-75,-25) [-25,-5) [-5,5) [5,25) [25,75]
	spec := InstrumentSpec{
		Symbol:      "BTCUSD-1H",
		BucketEdges: []float64{-75, -25, -5, 5, 25, 75},
	}
	require.Equal(t, 5, spec.BucketCount())

	tests := []struct {
		name  string
		score float64
		want  int
	}{
		{name: "far below range clamps to first bucket", score: -500, want: 0},
		{name: "exactly on lowest edge", score: -75, want: 0},
		{name: "inside first bucket", score: -50, want: 0},
		{name: "inside middle bucket", score: 0, want: 2},
		{name: "inside last bucket", score: 60, want: 4},
		{name: "exactly on highest edge", score: 75, want: 4},
		{name: "far above range clamps to last bucket", score: 500, want: 4},
		// Interior-edge ties resolve toward the bucket nearer zero momentum.
		{name: "negative interior edge goes to higher bucket", score: -25, want: 1},
		{name: "negative edge adjacent to center", score: -5, want: 2},
		{name: "positive interior edge stays in lower bucket", score: 25, want: 3},
		{name: "positive edge adjacent to center", score: 5, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spec.BucketFor(tt.score))
		})
	}
}

func TestBucketForDegenerateSpec(t *testing.T) {
	empty := InstrumentSpec{Symbol: "X"}
	assert.Equal(t, 0, empty.BucketCount())
	assert.Equal(t, 0, empty.BucketFor(12.3))

	single := InstrumentSpec{Symbol: "Y", BucketEdges: []float64{-10, 10}}
	assert.Equal(t, 1, single.BucketCount())
	assert.Equal(t, 0, single.BucketFor(-100))
	assert.Equal(t, 0, single.BucketFor(0))
	assert.Equal(t, 0, single.BucketFor(100))
}

func TestInstrumentTableLookup(t *testing.T) {
	table := InstrumentTable{
		"BTCUSD-1H": {Symbol: "BTCUSD-1H", UnderlyingSymbol: "BTCUSDT", BucketEdges: []float64{-10, 0, 10}},
	}

	spec, ok := table.Lookup("BTCUSD-1H")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", spec.UnderlyingSymbol)

	_, ok = table.Lookup("ETHUSD-1H")
	assert.False(t, ok)
}
