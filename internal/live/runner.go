// Package live runs the strategy against a real (or paper) broker: it
// polls inside the trading session, seeds reference windows at the
// evaluation times, and keeps each leg's working orders in line with the
// broker's actual position.
package live

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"breakout-trader/internal/broker"
	"breakout-trader/internal/config"
	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/feed"
	"breakout-trader/internal/logging"
	"breakout-trader/internal/models"
	"breakout-trader/internal/schedule"
	"breakout-trader/internal/store"
	"breakout-trader/internal/strategy"
	"breakout-trader/pkg/utils"
)

// pendingEntry is a gap-deferred evaluation: the window was decided at
// 09:16 but orders go out at the gap trade time.
type pendingEntry struct {
	at  models.MinuteOfDay
	win schedule.RefWindow
	idx int
}

// Runner is the live control loop.
type Runner struct {
	broker broker.Broker
	feed   feed.BarFeed
	store  store.DataStore // nil disables the audit trail
	tt     *schedule.Timetable
	cfg    *config.Config
	params strategy.Params
	logger zerolog.Logger
	now    func() time.Time

	books       map[string]*legBook
	seenEvals   map[string]bool
	pending     map[string]pendingEntry
	lastSaved   map[string]models.MinuteOfDay
	instruments []broker.Instrument
}

// NewRunner wires the live loop. st may be nil to skip persistence.
func NewRunner(b broker.Broker, f feed.BarFeed, st store.DataStore, tt *schedule.Timetable, cfg *config.Config, logger zerolog.Logger) *Runner {
	return &Runner{
		broker:    b,
		feed:      f,
		store:     st,
		tt:        tt,
		cfg:       cfg,
		params:    strategyParams(cfg, tt),
		logger:    logger.With().Str("component", "live").Logger(),
		now:       func() time.Time { return time.Now().In(utils.IndiaLocation) },
		books:     make(map[string]*legBook),
		seenEvals: make(map[string]bool),
		pending:   make(map[string]pendingEntry),
		lastSaved: make(map[string]models.MinuteOfDay),
	}
}

func strategyParams(cfg *config.Config, tt *schedule.Timetable) strategy.Params {
	return strategy.Params{
		EntryBuffer: cfg.Strategy.EntryBuffer,
		Target:      cfg.Strategy.Target,
		StopLoss:    cfg.Strategy.StopLoss,
		SLBuffer:    cfg.Strategy.SLBuffer,
		TieBreak:    strategy.TieBreak(cfg.Strategy.TieBreak),
		EntryCutoff: tt.EntryCutoff,
		ForcedClose: tt.ForcedClose,
	}
}

// Run polls until the session ends or the context is cancelled. Errors
// inside a tick are logged and the loop continues; only authentication
// and instrument-dump failures abort the run.
func (r *Runner) Run(ctx context.Context) error {
	if !r.broker.IsAuthenticated() {
		if err := r.broker.Login(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	instruments, err := utils.RetryWithResult(ctx, utils.FeedRetryConfig(), func() ([]broker.Instrument, error) {
		return r.broker.GetInstruments(ctx)
	})
	if err != nil {
		return fmt.Errorf("instrument dump: %w", err)
	}
	r.instruments = instruments
	r.logger.Info().Int("instruments", len(instruments)).Msg("live runner started")

	poll := time.Duration(r.cfg.Schedule.PollSeconds) * time.Second
	if poll <= 0 {
		poll = 3 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := r.now()
		if !utils.IsMarketOpen(now) {
			if !now.Before(utils.SessionClose(now)) {
				r.logger.Info().Msg("session over")
				return nil
			}
			continue
		}

		if err := r.step(ctx, now); err != nil {
			r.logger.Error().Err(err).Msg("tick failed")
		}
	}
}

// step is one poll tick across all configured underlyings. A failure on
// one underlying does not block the other.
func (r *Runner) step(ctx context.Context, now time.Time) error {
	r.markPaperFills(ctx, now)

	positions, err := r.broker.Positions(ctx)
	if err != nil {
		// Without positions no order decision is safe; skip this tick.
		return fmt.Errorf("positions: %w", err)
	}
	open := openLegs(positions)

	var firstErr error
	for _, symbol := range sortedSymbols(r.cfg) {
		inst, ok := r.cfg.Instrument(symbol)
		if !ok {
			continue
		}
		if err := r.stepSymbol(ctx, now, inst, open); err != nil {
			r.logger.Error().Err(err).Str("symbol", symbol).Msg("symbol tick failed")
			firstErr = coalesce(firstErr, err)
		}
	}
	return firstErr
}

func (r *Runner) stepSymbol(ctx context.Context, now time.Time, inst models.InstrumentSpec, open map[string]bool) error {
	minute := models.MinuteOf(now)
	kind, idx := r.tt.Classify(minute)

	if kind == schedule.TickEval {
		key := now.Format("2006-01-02") + "/" + minute.String() + "/" + inst.Symbol
		if !r.seenEvals[key] {
			r.seenEvals[key] = true
			if err := r.evaluate(ctx, now, inst, idx, open); err != nil {
				return err
			}
		}
	} else if p, ok := r.pending[inst.Symbol]; ok && minute >= p.at {
		delete(r.pending, inst.Symbol)
		if err := r.seedAndPlace(ctx, now, inst, p.win, open); err != nil {
			return err
		}
	}

	// Reconcile each leg's exit orders with the actual position.
	for _, leg := range []models.OptionType{models.OptionCall, models.OptionPut} {
		b, ok := r.books[bookKey(inst.Symbol, leg)]
		if !ok || b.symbol == "" {
			continue
		}
		if isOpen := open[bookKey(inst.Symbol, leg)]; isOpen != b.wasOpen {
			state := models.LegEntered
			if !isOpen {
				state = models.LegExited
				// The exit orders are still queryable here; trackFlat
				// cancels the leftovers right after.
				snap := r.exitSnapshot(ctx, b)
				b.exit = &snap
			}
			logging.LegEvent(r.logger, minute, inst.Symbol, leg, state).
				Str("contract", b.symbol).Msg("position changed")
			b.wasOpen = isOpen
		}
		if open[bookKey(inst.Symbol, leg)] {
			if err := r.trackOpen(ctx, b, r.lastClose(ctx, b.symbol, now)); err != nil {
				return err
			}
		} else {
			r.trackFlat(ctx, b)
		}
	}

	r.recordTick(ctx, now, inst, open)
	return nil
}

// markPaperFills drives the simulated fill engine under --paper: every
// contract with a working order gets its latest bar pushed through the
// paper broker before positions are read, so stop and limit orders fill
// off real market data. A no-op against a real broker.
func (r *Runner) markPaperFills(ctx context.Context, now time.Time) {
	pb, ok := r.broker.(*broker.PaperBroker)
	if !ok {
		return
	}
	for _, symbol := range pb.WorkingSymbols() {
		bars, err := r.feed.Bars(ctx, symbol, now.Add(-5*time.Minute), now)
		if err != nil || len(bars) == 0 {
			continue
		}
		bar := bars[len(bars)-1]
		pb.MarkBar(symbol, bar.High, bar.Low, bar.Timestamp)
	}
}

// recordTick persists one ledger row per underlying per minute so the
// report command can run over live history.
func (r *Runner) recordTick(ctx context.Context, now time.Time, inst models.InstrumentSpec, open map[string]bool) {
	if r.store == nil {
		return
	}
	minute := models.MinuteOf(now)
	if r.lastSaved[inst.Symbol] == minute {
		return
	}

	bars, err := r.feed.Bars(ctx, inst.Symbol, now.Add(-5*time.Minute), now)
	if err != nil || len(bars) == 0 {
		return
	}
	bar := bars[len(bars)-1]

	rec := models.TickRecord{
		Symbol:         inst.Symbol,
		Date:           now.Truncate(24 * time.Hour),
		Minute:         minute,
		SpotOpen:       bar.Open,
		SpotHigh:       bar.High,
		SpotLow:        bar.Low,
		SpotClose:      bar.Close,
		ScheduledEntry: models.NoMinute,
		Call:           r.liveSnapshot(inst.Symbol, models.OptionCall, open),
		Put:            r.liveSnapshot(inst.Symbol, models.OptionPut, open),
	}
	if err := r.store.SaveTickRecord(ctx, &rec); err != nil {
		r.logger.Warn().Err(err).Msg("tick record not persisted")
		return
	}
	r.lastSaved[inst.Symbol] = minute
}

// liveSnapshot reduces a leg book to the ledger's snapshot shape. Live
// mode knows held-or-flat, not the partial-exit split; finer detail lives
// in the order event trail. A leg that just went flat yields its one
// EXITED row here before dropping back to FLAT.
func (r *Runner) liveSnapshot(symbol string, leg models.OptionType, open map[string]bool) models.LegSnapshot {
	snap := models.FlatLeg()
	b, ok := r.books[bookKey(symbol, leg)]
	if !ok {
		return snap
	}
	if b.exit != nil {
		out := *b.exit
		b.exit = nil
		return out
	}
	snap.Ticker = b.symbol
	if open[bookKey(symbol, leg)] {
		snap.State = models.LegEntered
		snap.EntryPrice = models.Px(b.entry)
		snap.TP = models.Px(b.tp)
		snap.SL = models.Px(b.sl)
		snap.CycleCount = 1
	}
	return snap
}

// evaluate computes the reference window at an evaluation tick. A gap at
// the opening evaluation defers order placement to the gap trade time.
func (r *Runner) evaluate(ctx context.Context, now time.Time, inst models.InstrumentSpec, idx int, open map[string]bool) error {
	today, prev, err := r.spotDays(ctx, inst, now)
	if err != nil {
		return err
	}

	win, err := r.tt.WindowAt(idx, today, prev)
	if err != nil {
		return err
	}

	if win.Gap && models.MinuteOf(now) < win.EntryFrom {
		r.logger.Info().
			Str("symbol", inst.Symbol).
			Float64("gap", win.GapPct).
			Str("entry_at", win.EntryFrom.String()).
			Msg("overnight gap: entry deferred")
		r.pending[inst.Symbol] = pendingEntry{at: win.EntryFrom, win: win, idx: idx}
		return nil
	}
	return r.seedAndPlace(ctx, now, inst, win, open)
}

// seedAndPlace turns a reference window into working entry orders: spot
// high/low pick the strikes, the instrument dump resolves the contracts,
// and each flat leg gets a stop-entry above its option reference high.
func (r *Runner) seedAndPlace(ctx context.Context, now time.Time, inst models.InstrumentSpec, win schedule.RefWindow, open map[string]bool) error {
	today, prev, err := r.spotDays(ctx, inst, now)
	if err != nil {
		return err
	}

	spot := today
	winDate := now
	if win.Day == schedule.WindowPrevDay {
		spot = prev
		if len(prev) == 0 {
			return fmt.Errorf("%s: %w", inst.Symbol, apperrors.ErrMissingReference)
		}
		winDate = prev[0].Timestamp
	}

	high, low := schedule.HighLow(spot, win.Start, win.End)
	if !high.Valid || !low.Valid {
		return fmt.Errorf("%s spot %s-%s: %w", inst.Symbol, win.Start, win.End, apperrors.ErrMissingReference)
	}

	expiry, ok := broker.NearestOptionExpiry(r.instruments, inst.Symbol, now.Truncate(24*time.Hour))
	if !ok {
		return fmt.Errorf("%s: %w", inst.Symbol, apperrors.ErrNoContract)
	}

	strikes := map[models.OptionType]int{
		models.OptionCall: strategy.CallStrike(high.Value, inst.StrikeIncrement),
		models.OptionPut:  strategy.PutStrike(low.Value, inst.StrikeIncrement),
	}

	var firstErr error
	for leg, strike := range strikes {
		key := bookKey(inst.Symbol, leg)
		if open[key] {
			r.logger.Info().Str("symbol", inst.Symbol).Str("leg", string(leg)).
				Msg("position already open; no new entry")
			continue
		}

		contract, err := broker.ResolveOption(r.instruments, inst.Symbol, leg, strike, expiry)
		if err != nil {
			r.logger.Warn().Str("symbol", inst.Symbol).Str("leg", string(leg)).
				Int("strike", strike).Msg("no contract for strike; leg skipped this cycle")
			continue
		}

		refHigh, refLow, err := r.optionRef(ctx, contract.TradingSymbol, win, winDate)
		if err != nil {
			firstErr = coalesce(firstErr, err)
			continue
		}

		b, ok := r.books[key]
		if !ok {
			b = &legBook{underlying: inst.Symbol, leg: leg}
			r.books[key] = b
		}
		b.fullQty = inst.LotSize * r.cfg.Strategy.LotsScale * 2
		b.halfQty = inst.LotSize * r.cfg.Strategy.LotsScale

		if err := r.placeEntry(ctx, b, contract.TradingSymbol, refHigh, refLow); err != nil {
			firstErr = coalesce(firstErr, err)
		}
	}
	return firstErr
}

// optionRef fetches the option's bars over the reference window and
// returns its high and low.
func (r *Runner) optionRef(ctx context.Context, symbol string, win schedule.RefWindow, winDate time.Time) (models.Price, models.Price, error) {
	bars, err := r.feed.Bars(ctx, symbol, win.Start.At(winDate), win.End.At(winDate).Add(time.Minute))
	if err != nil {
		return models.NoPrice, models.NoPrice, fmt.Errorf("option reference %s: %w", symbol, err)
	}
	high, low := schedule.HighLow(bars, win.Start, win.End)
	return high, low, nil
}

// spotDays fetches the last week of spot bars and splits out the current
// and previous sessions.
func (r *Runner) spotDays(ctx context.Context, inst models.InstrumentSpec, now time.Time) (today, prev []models.Bar, err error) {
	bars, err := r.feed.Bars(ctx, inst.Symbol, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, nil, fmt.Errorf("spot bars %s: %w", inst.Symbol, err)
	}

	byDay := make(map[string][]models.Bar)
	var days []string
	for _, b := range bars {
		k := b.Timestamp.Format("2006-01-02")
		if _, ok := byDay[k]; !ok {
			days = append(days, k)
		}
		byDay[k] = append(byDay[k], b)
	}
	sort.Strings(days)

	todayKey := now.Format("2006-01-02")
	today = byDay[todayKey]
	for i := len(days) - 1; i >= 0; i-- {
		if days[i] < todayKey {
			prev = byDay[days[i]]
			break
		}
	}
	if len(today) == 0 {
		return nil, nil, fmt.Errorf("spot %s: %w", inst.Symbol, apperrors.ErrNoData)
	}
	return today, prev, nil
}

// openLegs maps broker positions onto (underlying, leg) keys. Symbols are
// matched by prefix, longest underlying first, so BANKNIFTY contracts are
// never booked to NIFTY.
func openLegs(positions []models.Position) map[string]bool {
	open := make(map[string]bool)
	underlyings := []string{"BANKNIFTY", "NIFTY"}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		var leg models.OptionType
		switch {
		case strings.HasSuffix(p.Symbol, string(models.OptionCall)):
			leg = models.OptionCall
		case strings.HasSuffix(p.Symbol, string(models.OptionPut)):
			leg = models.OptionPut
		default:
			continue
		}
		for _, u := range underlyings {
			if strings.HasPrefix(p.Symbol, u) {
				open[bookKey(u, leg)] = true
				break
			}
		}
	}
	return open
}

func sortedSymbols(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Instruments))
	for s := range cfg.Instruments {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func coalesce(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
