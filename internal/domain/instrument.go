package domain

import "sort"

// Instrument identifies a tradable event-market series (e.g., "BTCUSD-1H").
type Instrument string

// InstrumentSpec describes one instrument: the underlying symbol its strikes
// reference and the momentum-bucket boundaries that select its fingerprint
// surface. The boundary slice holds n+1 strictly increasing edges for n
// buckets and is immutable after load.
type InstrumentSpec struct {
	Symbol           Instrument // Instrument identifier
	UnderlyingSymbol string     // Symbol of the underlying price feed (e.g., "BTCUSDT")
	BucketEdges      []float64  // Momentum bucket edges, strictly increasing
}

// BucketCount returns the number of momentum buckets.
func (s InstrumentSpec) BucketCount() int {
	if len(s.BucketEdges) < 2 {
		return 0
	}
	return len(s.BucketEdges) - 1
}

// BucketFor returns the index of the momentum bucket containing score.
// Scores outside the table clamp to the extreme bucket. A score landing
// exactly on an interior edge belongs to two buckets; the tie resolves
// toward the bucket nearer zero momentum.
func (s InstrumentSpec) BucketFor(score float64) int {
	n := s.BucketCount()
	if n == 0 {
		return 0
	}
	if score <= s.BucketEdges[0] {
		return 0
	}
	if score >= s.BucketEdges[len(s.BucketEdges)-1] {
		return n - 1
	}
	// First bucket whose upper edge is >= score.
	i := sort.SearchFloat64s(s.BucketEdges[1:], score)
	if s.BucketEdges[1+i] == score && score < 0 && i+1 < n {
		// Exact interior edge on the negative side: the higher bucket
		// is nearer zero. On the positive side the lower bucket already
		// selected by the search is the one nearer zero.
		return i + 1
	}
	return i
}

// InstrumentTable is the immutable set of configured instruments.
type InstrumentTable map[Instrument]InstrumentSpec

// Lookup returns the spec for an instrument, if configured.
func (t InstrumentTable) Lookup(sym Instrument) (InstrumentSpec, bool) {
	spec, ok := t[sym]
	return spec, ok
}
