package models

import "time"

// LegState is the lifecycle state of one option leg.
type LegState string

const (
	LegFlat            LegState = "FLAT"
	LegEntered         LegState = "ENTERED"
	LegPartiallyExited LegState = "PARTIAL_EXIT"
	LegExited          LegState = "EXITED"
)

// Open reports whether the leg holds a position.
func (s LegState) Open() bool {
	return s == LegEntered || s == LegPartiallyExited
}

// LegSnapshot is the immutable per-tick record of one leg. Each tick the
// strategy folds the previous snapshot and the current bar into a new one;
// snapshots are never mutated in place.
type LegSnapshot struct {
	State       LegState
	Ticker      string
	RefHigh     Price // option high over the reference window
	RefLow      Price // option low over the reference window
	OptionHigh  Price
	OptionLow   Price
	OptionClose Price
	EntryPrice  Price
	TP          Price
	TrailTP     Price
	SL          Price
	ExitPrice   Price
	PnL         Price
	CycleCount  int
}

// Quote records the leg's option bar for this tick.
func (s *LegSnapshot) Quote(q OptionQuote) {
	s.OptionHigh = q.High
	s.OptionLow = q.Low
	s.OptionClose = q.Close
}

// FlatLeg returns the neutral no-position snapshot.
func FlatLeg() LegSnapshot {
	return LegSnapshot{State: LegFlat}
}

// TickRecord is one row of the trade ledger: the full state of both legs
// of one underlying at one minute tick.
type TickRecord struct {
	Symbol         string
	Date           time.Time
	Minute         MinuteOfDay
	SpotOpen       float64
	SpotHigh       float64
	SpotLow        float64
	SpotClose      float64
	ScheduledEntry MinuteOfDay
	WindowHigh     Price
	WindowLow      Price
	CallStrike     int
	PutStrike      int
	Call           LegSnapshot
	Put            LegSnapshot
}

// PnL is the realized P&L of the tick across both legs. Unknown leg P&L
// contributes zero.
func (r TickRecord) PnL() float64 {
	var pnl float64
	if r.Call.PnL.Valid {
		pnl += r.Call.PnL.Value
	}
	if r.Put.PnL.Valid {
		pnl += r.Put.PnL.Value
	}
	return pnl
}
