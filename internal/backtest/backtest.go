// Package backtest replays the strategy over historical per-day option
// files and writes the trade and result CSVs.
package backtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-trader/internal/feed"
	"breakout-trader/internal/models"
	"breakout-trader/internal/performance"
	"breakout-trader/internal/report"
	"breakout-trader/internal/schedule"
	"breakout-trader/internal/strategy"
)

// Options configure one backtest run.
type Options struct {
	Symbol  string
	From    time.Time
	To      time.Time
	OutDir  string
	Workers int // option-file loader goroutines; 0 means NumCPU
}

// Result is the outcome of a backtest run.
type Result struct {
	Records     []models.TickRecord
	Summaries   []report.YearSummary
	TradesPath  string
	ResultsPath string
	DaysRun     int
	DaysSkipped int
}

// Engine replays the strategy day by day. Option day files are loaded in
// parallel; the replay itself is sequential so records stay in tick
// order.
type Engine struct {
	feed   *feed.FileFeed
	tt     *schedule.Timetable
	params strategy.Params
	inst   models.InstrumentSpec
	logger zerolog.Logger
}

// NewEngine creates a backtest engine for one instrument.
func NewEngine(f *feed.FileFeed, tt *schedule.Timetable, params strategy.Params, inst models.InstrumentSpec, logger zerolog.Logger) *Engine {
	return &Engine{
		feed:   f,
		tt:     tt,
		params: params,
		inst:   inst,
		logger: logger.With().Str("component", "backtest").Str("symbol", inst.Symbol).Logger(),
	}
}

// Run executes the backtest. A day that fails to load or replay is
// logged and skipped; the run continues with the next day.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	spot, err := e.feed.LoadSpot(e.inst.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load spot data: %w", err)
	}

	dates, err := e.feed.ListOptionDays()
	if err != nil {
		return nil, fmt.Errorf("list option days: %w", err)
	}
	dates = clampDates(dates, opts.From, opts.To)
	if len(dates) == 0 {
		return nil, fmt.Errorf("no option day files between %s and %s",
			opts.From.Format("2006-01-02"), opts.To.Format("2006-01-02"))
	}

	days := e.loadDays(ctx, spot, dates, opts.Workers)

	res := &Result{}
	driver := strategy.NewDriver(e.tt, e.params, e.inst, e.logger)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := e.runDay(driver, spot, days, date)
		if err != nil {
			res.DaysSkipped++
			e.logger.Warn().Err(err).
				Str("date", date.Format("2006-01-02")).
				Msg("skipping day")
			continue
		}
		res.Records = append(res.Records, records...)
		res.DaysRun++
	}

	res.Summaries = report.Summarize(res.Records)

	res.TradesPath = filepath.Join(opts.OutDir, report.TradesFilename(e.inst.Symbol, e.params.Target))
	res.ResultsPath = filepath.Join(opts.OutDir, report.ResultsFilename(e.inst.Symbol, e.params.Target))
	if err := report.WriteTrades(res.TradesPath, res.Records); err != nil {
		return nil, err
	}
	if err := report.WriteResults(res.ResultsPath, res.Summaries); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("days", res.DaysRun).
		Int("skipped", res.DaysSkipped).
		Int("records", len(res.Records)).
		Msg("backtest complete")
	return res, nil
}

// loadedDay is one option day file's parse outcome.
type loadedDay struct {
	day *feed.OptionDay
	err error
}

// loadDays parses every needed option day file concurrently: each run
// day plus the day before it, since the first evaluation's reference
// window lives in the previous session. Each file is parsed once.
func (e *Engine) loadDays(ctx context.Context, spot *feed.SpotSeries, dates []time.Time, workers int) map[string]loadedDay {
	need := make(map[string]time.Time)
	for _, d := range dates {
		need[dayKey(d)] = d
		if prev, ok := spot.PrevDate(d); ok {
			need[dayKey(prev)] = prev
		}
	}

	pool := performance.NewWorkerPool(workers)
	pool.Start()

	// Cancelling the run tears the pool down without waiting for the
	// remaining files.
	loaded := make(chan struct{})
	defer close(loaded)
	go func() {
		select {
		case <-ctx.Done():
			pool.Stop()
		case <-loaded:
		}
	}()

	var mu sync.Mutex
	out := make(map[string]loadedDay, len(need))

	for key, date := range need {
		key, date := key, date
		if !pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			day, err := e.feed.LoadOptionDay(date)
			mu.Lock()
			out[key] = loadedDay{day: day, err: err}
			mu.Unlock()
		}) {
			break
		}
	}
	pool.Drain()
	e.logger.Debug().Uint64("files", pool.TasksDone()).Msg("option day files parsed")
	return out
}

func (e *Engine) runDay(driver *strategy.Driver, spot *feed.SpotSeries, days map[string]loadedDay, date time.Time) ([]models.TickRecord, error) {
	todaySpot := spot.Day(date)
	if len(todaySpot) == 0 {
		return nil, fmt.Errorf("no spot bars")
	}
	prevDate, ok := spot.PrevDate(date)
	if !ok {
		return nil, fmt.Errorf("no previous session")
	}

	today, ok := days[dayKey(date)]
	if !ok || today.err != nil {
		return nil, fmt.Errorf("option day: %w", dayErr(today))
	}
	prev, ok := days[dayKey(prevDate)]
	if !ok || prev.err != nil {
		return nil, fmt.Errorf("previous option day: %w", dayErr(prev))
	}

	contracts := e.contractsFor(today.day, date)
	if len(contracts) == 0 {
		return nil, fmt.Errorf("no %s contracts in option file", e.inst.Symbol)
	}

	return driver.RunDay(strategy.DayInput{
		Date:        date,
		Spot:        todaySpot,
		PrevSpot:    spot.Day(prevDate),
		Options:     today.day,
		PrevOptions: prev.day,
		Contracts:   contracts,
	})
}

// contractsFor narrows the day's ticker universe to this underlying's
// nearest-expiry contracts still alive on the trade date.
func (e *Engine) contractsFor(day *feed.OptionDay, date time.Time) []models.OptionContract {
	all := models.ParseContracts(day.Tickers())
	mine := all[:0]
	for _, c := range all {
		if c.Underlying == e.inst.Symbol && !c.Expiry.Before(date) {
			mine = append(mine, c)
		}
	}
	return models.NearestExpiry(mine)
}

func dayErr(d loadedDay) error {
	if d.err != nil {
		return d.err
	}
	return fmt.Errorf("file not loaded")
}

func clampDates(dates []time.Time, from, to time.Time) []time.Time {
	out := dates[:0]
	for _, d := range dates {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
