package domain

import "time"

// SnapshotEntry pairs one strike quote with its computed probability.
type SnapshotEntry struct {
	Quote       StrikeQuote
	Probability float64 // Probability the strike resolves YES, in [0,1]
}

// StrikeSnapshot is the versioned output of one pipeline cycle: every
// tradable strike with its probability, stamped with a strictly increasing
// sequence number. Snapshots are immutable once published; consumers may
// read them without synchronization.
type StrikeSnapshot struct {
	Sequence  uint64                 // Strictly increasing across publishes
	CreatedAt time.Time              // When the data was fetched (unchanged on stale republish)
	Stale     bool                   // True when this is a republished last-known snapshot
	Momentum  map[Instrument]float64 // Momentum score used for surface selection, per instrument
	Entries   []SnapshotEntry        // One entry per strike, order as reported by the source
}

// Age returns how old the snapshot data is at time now.
func (s *StrikeSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
