// Package strategy implements the breakout position state machine and the
// per-day cycle driver that feeds it.
package strategy

import (
	"breakout-trader/internal/models"
	"breakout-trader/pkg/utils"
)

// TieBreak selects which exit wins when the same bar touches both the
// take-profit and the stop-loss.
type TieBreak string

const (
	// TieBreakTPFirst is the default: the bar's high is checked
	// against the take-profit before its low is checked against the stop.
	TieBreakTPFirst TieBreak = "tp_first"
	// TieBreakSLFirst is the pessimistic alternative.
	TieBreakSLFirst TieBreak = "sl_first"
)

// Params are the state machine's tuning knobs.
type Params struct {
	EntryBuffer float64
	Target      float64
	StopLoss    float64
	SLBuffer    float64
	LotSize     int
	TieBreak    TieBreak
	EntryCutoff models.MinuteOfDay
	ForcedClose models.MinuteOfDay
}

// LegInput is everything the fold step needs about the current tick:
// the minute, the leg's resolved contract and reference stats for the
// current window, and the contract's bar this minute.
type LegInput struct {
	Minute         models.MinuteOfDay
	ScheduledEntry models.MinuteOfDay // NoMinute when no window is active
	Ticker         string             // "" when the strike had no contract
	RefHigh        models.Price       // option high over the reference window
	RefLow         models.Price
	Quote          models.OptionQuote
}

// Next folds the previous leg snapshot and the current tick into the next
// snapshot. It never mutates prev; the returned snapshot is the complete
// new state including carried-forward fields.
//
// Unknown prices are carried but never actionable: a tick with no option
// bar makes no entry, take-profit or stop decision.
func Next(prev models.LegSnapshot, in LegInput, p Params) models.LegSnapshot {
	switch prev.State {
	case models.LegEntered:
		return nextEntered(prev, in, p)
	case models.LegPartiallyExited:
		return nextPartial(prev, in, p)
	default:
		return nextFlat(prev, in, p)
	}
}

// nextFlat handles Flat and Exited: the leg holds nothing and may attempt
// one entry per cycle once the scheduled entry time arrives.
func nextFlat(prev models.LegSnapshot, in LegInput, p Params) models.LegSnapshot {
	next := models.FlatLeg()
	next.CycleCount = prev.CycleCount

	if in.ScheduledEntry == models.NoMinute || in.Minute < in.ScheduledEntry {
		next.Quote(models.NoQuote)
		return next
	}

	next.Ticker = in.Ticker
	next.RefHigh = in.RefHigh
	next.RefLow = in.RefLow
	next.Quote(in.Quote)

	trigger := scale(in.RefHigh, 1+p.EntryBuffer)
	if next.CycleCount == 0 && in.Minute <= p.EntryCutoff && in.Quote.High.GTE(trigger) && in.Quote.Close.Valid {
		next.State = models.LegEntered
		next.EntryPrice = in.Quote.Close
		next.TP = scale(next.EntryPrice, 1+p.Target)
		next.TrailTP = next.TP
		next.SL = stopLevel(next.EntryPrice, in.RefLow, p)
		next.CycleCount = 1
	}
	return next
}

// nextEntered holds two lots. The take-profit is checked before the stop
// under the configured tie-break; 15:19 force-closes the whole position.
func nextEntered(prev models.LegSnapshot, in LegInput, p Params) models.LegSnapshot {
	next := carry(prev, in)
	next.TrailTP = prev.TP

	tpHit := in.Quote.High.GTE(prev.TP)
	slHit := in.Quote.Low.LTE(prev.SL)
	if p.TieBreak == TieBreakSLFirst && slHit {
		tpHit = false
	}

	switch {
	case tpHit:
		next.State = models.LegPartiallyExited
		next.ExitPrice = prev.TP
		next.PnL = realize(prev.TP, prev.EntryPrice, 1, p.LotSize)
	case slHit:
		next.State = models.LegExited
		next.ExitPrice = prev.SL
		next.PnL = realize(prev.SL, prev.EntryPrice, 2, p.LotSize)
	case in.Minute == p.ForcedClose:
		next.State = models.LegExited
		next.ExitPrice = in.Quote.Close
		next.PnL = realize(in.Quote.Close, prev.EntryPrice, 2, p.LotSize)
	default:
		next.State = models.LegEntered
	}
	return next
}

// nextPartial holds one remaining lot behind a trailing take-profit that
// ratchets up whenever the previous close ran beyond the previous target.
func nextPartial(prev models.LegSnapshot, in LegInput, p Params) models.LegSnapshot {
	next := carry(prev, in)

	if prev.OptionClose.GT(prev.TP) {
		mid := (prev.OptionClose.Value + prev.TP.Value) / 2
		next.TrailTP = models.Px(utils.RoundToTick(mid))
	} else {
		next.TrailTP = prev.TrailTP
	}

	switch {
	case in.Quote.Low.LTE(prev.SL):
		next.State = models.LegExited
		next.ExitPrice = prev.SL
		next.PnL = realize(prev.SL, prev.EntryPrice, 1, p.LotSize)
	case in.Quote.Low.LTE(next.TrailTP):
		next.State = models.LegExited
		next.ExitPrice = next.TrailTP
		next.PnL = realize(next.TrailTP, prev.EntryPrice, 1, p.LotSize)
	case in.Minute == p.ForcedClose:
		next.State = models.LegExited
		next.ExitPrice = in.Quote.Close
		next.PnL = realize(in.Quote.Close, prev.EntryPrice, 1, p.LotSize)
	default:
		next.State = models.LegPartiallyExited
	}
	return next
}

// carry copies the open-position fields forward onto a fresh snapshot.
func carry(prev models.LegSnapshot, in LegInput) models.LegSnapshot {
	next := models.LegSnapshot{
		Ticker:     prev.Ticker,
		RefHigh:    prev.RefHigh,
		RefLow:     prev.RefLow,
		EntryPrice: prev.EntryPrice,
		TP:         prev.TP,
		SL:         prev.SL,
		TrailTP:    prev.TrailTP,
		CycleCount: 1,
	}
	next.Quote(in.Quote)
	return next
}

// stopLevel is max(entry*(1-stopLoss), refLow*(1-slBuffer)). An unknown
// reference low falls back to the entry-derived stop alone.
func stopLevel(entry, refLow models.Price, p Params) models.Price {
	sl := entry.Value * (1 - p.StopLoss)
	if refLow.Valid {
		if floor := refLow.Value * (1 - p.SLBuffer); floor > sl {
			sl = floor
		}
	}
	return models.Px(sl)
}

func realize(exit, entry models.Price, lots, lotSize int) models.Price {
	if !exit.Valid || !entry.Valid {
		return models.NoPrice
	}
	return models.Px((exit.Value - entry.Value) * float64(lots) * float64(lotSize))
}

func scale(p models.Price, factor float64) models.Price {
	if !p.Valid {
		return models.NoPrice
	}
	return models.Px(p.Value * factor)
}
