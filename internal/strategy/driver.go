package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
	"breakout-trader/internal/schedule"
)

// OptionSeries is one day of option bars, looked up by contract ticker.
type OptionSeries interface {
	Quote(ticker string, m models.MinuteOfDay) models.OptionQuote
	HighLow(ticker string, start, end models.MinuteOfDay) (models.Price, models.Price)
}

// DayInput is the full data set for one underlying on one trading day.
type DayInput struct {
	Date        time.Time
	Spot        []models.Bar // today's session, minute-ordered
	PrevSpot    []models.Bar
	Options     OptionSeries
	PrevOptions OptionSeries
	Contracts   []models.OptionContract // nearest expiry, this underlying
}

// Driver walks one underlying through one trading day, minute by minute,
// seeding a fresh reference window at each evaluation time and folding
// both legs through the state machine on every tick.
type Driver struct {
	tt     *schedule.Timetable
	params Params
	inst   models.InstrumentSpec
	logger zerolog.Logger
}

// NewDriver creates a cycle driver for one instrument.
func NewDriver(tt *schedule.Timetable, params Params, inst models.InstrumentSpec, logger zerolog.Logger) *Driver {
	return &Driver{tt: tt, params: params, inst: inst, logger: logger}
}

// windowState is the seeded context carried between evaluation ticks.
type windowState struct {
	seeded     bool
	scheduled  models.MinuteOfDay
	windowHigh models.Price
	windowLow  models.Price
	callStrike int
	putStrike  int
	call       legContext
	put        legContext
}

// legContext is one leg's resolved contract and reference stats for the
// current window.
type legContext struct {
	ticker  string
	refHigh models.Price
	refLow  models.Price
}

// RunDay replays the day tick by tick and returns one TickRecord per
// minute. A failure to seed the first window (missing gap bars, empty
// reference window) aborts the day; the caller logs and skips it.
func (d *Driver) RunDay(in DayInput) ([]models.TickRecord, error) {
	if len(in.Spot) == 0 {
		return nil, apperrors.NewDataError("spot", in.Date.Format("2006-01-02"), apperrors.ErrNoData)
	}

	records := make([]models.TickRecord, 0, len(in.Spot))
	prevCall, prevPut := models.FlatLeg(), models.FlatLeg()
	var ws windowState

	for _, bar := range in.Spot {
		minute := bar.Minute()
		kind, evalIdx := d.tt.Classify(minute)

		if kind == schedule.TickDayOpen {
			ws = windowState{scheduled: models.NoMinute}
			prevCall, prevPut = models.FlatLeg(), models.FlatLeg()
			records = append(records, d.record(in, bar, ws, prevCall, prevPut))
			continue
		}

		if kind == schedule.TickEval {
			next, err := d.seedWindow(in, evalIdx)
			if err != nil {
				return nil, err
			}
			ws = next
			// A new window grants each leg one fresh entry attempt.
			prevCall.CycleCount = 0
			prevPut.CycleCount = 0
		}

		series := in.Options
		prevCall = Next(prevCall, d.legInput(minute, ws, ws.call, series), d.params)
		prevPut = Next(prevPut, d.legInput(minute, ws, ws.put, series), d.params)
		records = append(records, d.record(in, bar, ws, prevCall, prevPut))
	}

	return records, nil
}

// seedWindow resolves the reference window for an evaluation tick:
// window bounds, spot high/low, both strikes, and per-leg contract and
// option reference stats. A leg whose strike has no contract is left
// unresolved; the other leg is unaffected.
func (d *Driver) seedWindow(in DayInput, evalIdx int) (windowState, error) {
	win, err := d.tt.WindowAt(evalIdx, in.Spot, in.PrevSpot)
	if err != nil {
		return windowState{}, err
	}

	spot := in.Spot
	opts := in.Options
	if win.Day == schedule.WindowPrevDay {
		spot = in.PrevSpot
		opts = in.PrevOptions
	}

	high, low := schedule.HighLow(spot, win.Start, win.End)
	if !high.Valid || !low.Valid {
		return windowState{}, fmt.Errorf("%w: %s spot %s-%s", apperrors.ErrMissingReference,
			in.Date.Format("2006-01-02"), win.Start, win.End)
	}

	ws := windowState{
		seeded:     true,
		scheduled:  win.EntryFrom,
		windowHigh: high,
		windowLow:  low,
		callStrike: CallStrike(high.Value, d.inst.StrikeIncrement),
		putStrike:  PutStrike(low.Value, d.inst.StrikeIncrement),
	}
	ws.call = d.resolveLeg(in, opts, win, ws.callStrike, models.OptionCall)
	ws.put = d.resolveLeg(in, opts, win, ws.putStrike, models.OptionPut)

	if win.Gap {
		d.logger.Info().
			Str("symbol", d.inst.Symbol).
			Str("date", in.Date.Format("2006-01-02")).
			Float64("gap", win.GapPct).
			Str("entry_from", win.EntryFrom.String()).
			Msg("overnight gap: entry deferred")
	}
	return ws, nil
}

func (d *Driver) resolveLeg(in DayInput, opts OptionSeries, win schedule.RefWindow, strike int, typ models.OptionType) legContext {
	contract, err := ResolveContract(in.Contracts, strike, typ)
	if err != nil {
		d.logger.Warn().
			Str("symbol", d.inst.Symbol).
			Str("date", in.Date.Format("2006-01-02")).
			Int("strike", strike).
			Str("type", string(typ)).
			Msg("no contract for strike; leg skipped this cycle")
		return legContext{}
	}

	refHigh, refLow := opts.HighLow(contract.Ticker, win.Start, win.End)
	return legContext{ticker: contract.Ticker, refHigh: refHigh, refLow: refLow}
}

func (d *Driver) legInput(minute models.MinuteOfDay, ws windowState, leg legContext, series OptionSeries) LegInput {
	in := LegInput{
		Minute:         minute,
		ScheduledEntry: models.NoMinute,
		Ticker:         leg.ticker,
		RefHigh:        leg.refHigh,
		RefLow:         leg.refLow,
	}
	if ws.seeded {
		in.ScheduledEntry = ws.scheduled
	}
	if leg.ticker != "" {
		in.Quote = series.Quote(leg.ticker, minute)
	}
	return in
}

func (d *Driver) record(in DayInput, bar models.Bar, ws windowState, call, put models.LegSnapshot) models.TickRecord {
	rec := models.TickRecord{
		Symbol:         d.inst.Symbol,
		Date:           in.Date,
		Minute:         bar.Minute(),
		SpotOpen:       bar.Open,
		SpotHigh:       bar.High,
		SpotLow:        bar.Low,
		SpotClose:      bar.Close,
		ScheduledEntry: models.NoMinute,
		Call:           call,
		Put:            put,
	}
	if ws.seeded {
		rec.ScheduledEntry = ws.scheduled
		rec.WindowHigh = ws.windowHigh
		rec.WindowLow = ws.windowLow
		rec.CallStrike = ws.callStrike
		rec.PutStrike = ws.putStrike
	}
	return rec
}
