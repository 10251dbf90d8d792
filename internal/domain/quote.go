package domain

import "time"

// StrikeQuote is one tradable strike as reported by the market snapshot
// source. Quotes are ephemeral; a fresh set is produced every pipeline cycle.
type StrikeQuote struct {
	Instrument      Instrument    // Owning instrument
	Ticker          string        // Exchange market ticker for this strike
	StrikePrice     float64       // Outcome boundary on the underlying
	Side            Side          // YES or NO
	TimeToClose     time.Duration // Remaining time until outcome determination
	UnderlyingPrice float64       // Underlying price at quote time
	AskPrice        float64       // Best ask for the contract, in dollars per contract
}

// Distance returns the relative distance of the strike from the current
// underlying price. Positive means the strike is above the underlying.
func (q StrikeQuote) Distance() float64 {
	if q.UnderlyingPrice == 0 {
		return 0
	}
	return (q.StrikePrice - q.UnderlyingPrice) / q.UnderlyingPrice
}
