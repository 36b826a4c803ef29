// Package schedule computes the strategy's evaluation timetable and the
// reference bar windows that seed each trading cycle.
package schedule

import (
	"fmt"

	"breakout-trader/internal/config"
	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// TickKind classifies a minute tick within the trading day.
type TickKind int

const (
	// TickRegular carries the current window forward.
	TickRegular TickKind = iota
	// TickDayOpen is the literal market open: all state resets.
	TickDayOpen
	// TickEval seeds a fresh reference window and trading cycle.
	TickEval
)

// WindowDay says which day's bars a reference window spans.
type WindowDay int

const (
	WindowToday WindowDay = iota
	WindowPrevDay
)

// RefWindow is the resolved reference window for one evaluation: its
// bounds, which day it reads, and the earliest minute entries are allowed.
type RefWindow struct {
	Day       WindowDay
	Start     models.MinuteOfDay
	End       models.MinuteOfDay
	EntryFrom models.MinuteOfDay
	Gap       bool
	GapPct    float64
}

// Timetable holds the fixed evaluation schedule for a trading day.
type Timetable struct {
	EvalTimes    []models.MinuteOfDay
	RefStarts    []models.MinuteOfDay
	RefEnds      []models.MinuteOfDay
	GapTradeTime models.MinuteOfDay
	EntryCutoff  models.MinuteOfDay
	ForcedClose  models.MinuteOfDay
	MarketOpen   models.MinuteOfDay
	MarketClose  models.MinuteOfDay
	GapThreshold float64
}

// gapWindowMinutes is the length of the opening reference window used on
// gap days: 09:15 through 09:24.
const gapWindowMinutes = 9

// FromConfig builds a Timetable from configuration.
func FromConfig(sc config.ScheduleConfig, gapThreshold float64) (*Timetable, error) {
	parseAll := func(ss []string) ([]models.MinuteOfDay, error) {
		out := make([]models.MinuteOfDay, len(ss))
		for i, s := range ss {
			m, err := models.ParseMinute(s)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}

	evals, err := parseAll(sc.EvalTimes)
	if err != nil {
		return nil, fmt.Errorf("eval_times: %w", err)
	}
	starts, err := parseAll(sc.RefBarStarts)
	if err != nil {
		return nil, fmt.Errorf("ref_bar_starts: %w", err)
	}
	ends, err := parseAll(sc.RefBarEnds)
	if err != nil {
		return nil, fmt.Errorf("ref_bar_ends: %w", err)
	}
	if len(evals) != len(starts) || len(evals) != len(ends) {
		return nil, fmt.Errorf("%w: schedule lists must align", apperrors.ErrConfigInvalid)
	}

	single := func(s string) (models.MinuteOfDay, error) { return models.ParseMinute(s) }
	tt := &Timetable{EvalTimes: evals, RefStarts: starts, RefEnds: ends, GapThreshold: gapThreshold}
	if tt.GapTradeTime, err = single(sc.GapTradeTime); err != nil {
		return nil, err
	}
	if tt.EntryCutoff, err = single(sc.EntryCutoff); err != nil {
		return nil, err
	}
	if tt.ForcedClose, err = single(sc.ForcedClose); err != nil {
		return nil, err
	}
	if tt.MarketOpen, err = single(sc.MarketOpen); err != nil {
		return nil, err
	}
	if tt.MarketClose, err = single(sc.MarketClose); err != nil {
		return nil, err
	}
	return tt, nil
}

// Classify returns the tick kind for a minute, and for evaluation ticks
// the index into the timetable.
func (t *Timetable) Classify(m models.MinuteOfDay) (TickKind, int) {
	for i, e := range t.EvalTimes {
		if m == e {
			return TickEval, i
		}
	}
	if m == t.MarketOpen {
		return TickDayOpen, -1
	}
	return TickRegular, -1
}

// WindowAt resolves the reference window for evaluation idx. The first
// evaluation inspects the overnight gap: a gap at or beyond the threshold
// switches the window to today's opening minutes and defers entry to the
// gap trade time. Missing gap bars surface as ErrMissingReference so the
// caller can skip the day.
func (t *Timetable) WindowAt(idx int, todaySpot, prevSpot []models.Bar) (RefWindow, error) {
	if idx < 0 || idx >= len(t.EvalTimes) {
		return RefWindow{}, fmt.Errorf("evaluation index %d out of range", idx)
	}

	if idx > 0 {
		return RefWindow{
			Day:       WindowToday,
			Start:     t.RefStarts[idx],
			End:       t.RefEnds[idx],
			EntryFrom: t.EvalTimes[idx],
		}, nil
	}

	prevClose, okClose := closeAt(prevSpot, t.RefEnds[0])
	todayOpen, okOpen := openAt(todaySpot, t.MarketOpen)
	if !okClose || !okOpen {
		return RefWindow{}, fmt.Errorf("%w: gap bars at %s/%s", apperrors.ErrMissingReference, t.RefEnds[0], t.MarketOpen)
	}

	gap := (todayOpen - prevClose) / prevClose
	if abs(gap) >= t.GapThreshold {
		return RefWindow{
			Day:       WindowToday,
			Start:     t.MarketOpen,
			End:       t.MarketOpen + gapWindowMinutes,
			EntryFrom: t.GapTradeTime,
			Gap:       true,
			GapPct:    gap,
		}, nil
	}
	return RefWindow{
		Day:       WindowPrevDay,
		Start:     t.RefStarts[0],
		End:       t.RefEnds[0],
		EntryFrom: t.EvalTimes[0],
		GapPct:    gap,
	}, nil
}

// HighLow returns the high and low over the bars inside [start, end].
// Unknown when the window holds no bars.
func HighLow(bars []models.Bar, start, end models.MinuteOfDay) (models.Price, models.Price) {
	var high, low models.Price
	for _, b := range bars {
		m := b.Minute()
		if m < start || m > end {
			continue
		}
		if !high.Valid || b.High > high.Value {
			high = models.Px(b.High)
		}
		if !low.Valid || b.Low < low.Value {
			low = models.Px(b.Low)
		}
	}
	return high, low
}

func closeAt(bars []models.Bar, m models.MinuteOfDay) (float64, bool) {
	for _, b := range bars {
		if b.Minute() == m {
			return b.Close, true
		}
	}
	return 0, false
}

func openAt(bars []models.Bar, m models.MinuteOfDay) (float64, bool) {
	for _, b := range bars {
		if b.Minute() == m {
			return b.Open, true
		}
	}
	return 0, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
