package strategy

import (
	"math"
	"testing"

	"breakout-trader/internal/models"
)

func testParams() Params {
	return Params{
		EntryBuffer: 0.1,
		Target:      0.1,
		StopLoss:    0.6,
		SLBuffer:    0.1,
		LotSize:     75,
		TieBreak:    TieBreakTPFirst,
		EntryCutoff: models.MustMinute("15:20"),
		ForcedClose: models.MustMinute("15:19"),
	}
}

func quote(high, low, close float64) models.OptionQuote {
	return models.OptionQuote{
		High:  models.Px(high),
		Low:   models.Px(low),
		Close: models.Px(close),
	}
}

func activeInput(m string, high, low, close float64) LegInput {
	return LegInput{
		Minute:         models.MustMinute(m),
		ScheduledEntry: models.MustMinute("09:16"),
		Ticker:         "NIFTY27FEB20CE",
		RefHigh:        models.Px(100),
		RefLow:         models.Px(80),
		Quote:          quote(high, low, close),
	}
}

func enteredLeg(entry float64, p Params) models.LegSnapshot {
	leg := models.FlatLeg()
	leg.State = models.LegEntered
	leg.EntryPrice = models.Px(entry)
	leg.TP = models.Px(entry * (1 + p.Target))
	leg.TrailTP = leg.TP
	leg.SL = models.Px(entry * (1 - p.StopLoss))
	leg.CycleCount = 1
	return leg
}

func TestEntryOnBreakout(t *testing.T) {
	p := testParams()

	// Trigger is refHigh * 1.1 = 110.
	next := Next(models.FlatLeg(), activeInput("09:20", 112, 105, 111), p)
	if next.State != models.LegEntered {
		t.Fatalf("state = %s, want ENTERED", next.State)
	}
	if next.EntryPrice.Value != 111 {
		t.Errorf("entry = %v, want close 111", next.EntryPrice.Value)
	}
	if got, want := next.TP.Value, 111*1.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("tp = %v, want %v", got, want)
	}
	// SL = max(entry*0.4, refLow*0.9) = max(44.4, 72) = 72.
	if got := next.SL.Value; math.Abs(got-72) > 1e-9 {
		t.Errorf("sl = %v, want 72", got)
	}
	if next.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1", next.CycleCount)
	}
}

func TestNoEntryBelowTrigger(t *testing.T) {
	next := Next(models.FlatLeg(), activeInput("09:20", 109.9, 105, 108), testParams())
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT", next.State)
	}
}

func TestNoEntryBeforeScheduledTime(t *testing.T) {
	in := activeInput("09:20", 150, 105, 148)
	in.ScheduledEntry = models.MustMinute("09:30")
	next := Next(models.FlatLeg(), in, testParams())
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT before scheduled entry", next.State)
	}
}

func TestNoEntryAfterCutoff(t *testing.T) {
	next := Next(models.FlatLeg(), activeInput("15:21", 150, 105, 148), testParams())
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT after cutoff", next.State)
	}
}

func TestNoReentryWithinWindow(t *testing.T) {
	prev := models.FlatLeg()
	prev.CycleCount = 1
	next := Next(prev, activeInput("09:25", 150, 105, 148), testParams())
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT while cycle count is 1", next.State)
	}
}

func TestNoEntryOnUnknownClose(t *testing.T) {
	in := activeInput("09:20", 150, 105, 0)
	in.Quote.Close = models.NoPrice
	next := Next(models.FlatLeg(), in, testParams())
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT on unknown close", next.State)
	}
}

func TestStopFallsBackToEntryWhenRefLowUnknown(t *testing.T) {
	in := activeInput("09:20", 112, 105, 111)
	in.RefLow = models.NoPrice
	next := Next(models.FlatLeg(), in, testParams())
	if next.State != models.LegEntered {
		t.Fatalf("state = %s, want ENTERED", next.State)
	}
	if got, want := next.SL.Value, 111*0.4; math.Abs(got-want) > 1e-9 {
		t.Errorf("sl = %v, want entry-derived %v", got, want)
	}
}

func TestPartialExitAtTarget(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p) // TP 110, SL 40

	next := Next(prev, activeInput("10:00", 111, 108, 110.5), p)
	if next.State != models.LegPartiallyExited {
		t.Fatalf("state = %s, want PARTIAL_EXIT", next.State)
	}
	if got := next.ExitPrice.Value; math.Abs(got-110) > 1e-9 {
		t.Errorf("exit = %v, want tp 110", got)
	}
	// One lot realized at the target.
	if got, want := next.PnL.Value, (110.0-100.0)*1*75; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", got, want)
	}
}

func TestFullExitAtStop(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)

	next := Next(prev, activeInput("10:00", 105, 39, 41), p)
	if next.State != models.LegExited {
		t.Fatalf("state = %s, want EXITED", next.State)
	}
	if got := next.ExitPrice.Value; math.Abs(got-40) > 1e-9 {
		t.Errorf("exit = %v, want sl 40", got)
	}
	if got, want := next.PnL.Value, (40.0-100.0)*2*75; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", got, want)
	}
}

func TestTieBreakTargetWinsByDefault(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)

	// Bar touches both TP (110) and SL (40).
	next := Next(prev, activeInput("10:00", 115, 39, 50), p)
	if next.State != models.LegPartiallyExited {
		t.Fatalf("state = %s, want PARTIAL_EXIT under tp_first", next.State)
	}

	p.TieBreak = TieBreakSLFirst
	next = Next(prev, activeInput("10:00", 115, 39, 50), p)
	if next.State != models.LegExited {
		t.Fatalf("state = %s, want EXITED under sl_first", next.State)
	}
	if got := next.ExitPrice.Value; math.Abs(got-40) > 1e-9 {
		t.Errorf("exit = %v, want sl 40", got)
	}
}

func TestForcedCloseWhileEntered(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)

	next := Next(prev, activeInput("15:19", 104, 98, 101), p)
	if next.State != models.LegExited {
		t.Fatalf("state = %s, want EXITED at forced close", next.State)
	}
	if got, want := next.PnL.Value, (101.0-100.0)*2*75; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", got, want)
	}
}

func TestHeldPositionCarriesForward(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)

	next := Next(prev, activeInput("10:00", 105, 95, 102), p)
	if next.State != models.LegEntered {
		t.Fatalf("state = %s, want ENTERED", next.State)
	}
	if next.EntryPrice != prev.EntryPrice || next.TP != prev.TP || next.SL != prev.SL {
		t.Error("held tick must carry entry, tp, sl unchanged")
	}
	if next.TrailTP != prev.TP {
		t.Errorf("trail tp = %v, want prev tp %v", next.TrailTP, prev.TP)
	}
	if next.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1 while held", next.CycleCount)
	}
}

func TestUnknownQuoteNeverExits(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)

	next := Next(prev, LegInput{
		Minute:         models.MustMinute("10:00"),
		ScheduledEntry: models.MustMinute("09:16"),
		Ticker:         prev.Ticker,
		Quote:          models.NoQuote,
	}, p)
	if next.State != models.LegEntered {
		t.Fatalf("state = %s, want ENTERED on unknown quote", next.State)
	}
}

func TestTrailingTargetRatchet(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)
	prev.State = models.LegPartiallyExited
	prev.TrailTP = prev.TP            // 110
	prev.OptionClose = models.Px(116) // ran beyond target
	want := (116.0 + 110.0) / 2       // 113
	in := activeInput("10:01", 118, 114, 117)

	next := Next(prev, in, p)
	if next.State != models.LegPartiallyExited {
		t.Fatalf("state = %s, want PARTIAL_EXIT", next.State)
	}
	if got := next.TrailTP.Value; math.Abs(got-want) > 1e-9 {
		t.Errorf("trail tp = %v, want %v", got, want)
	}
}

func TestTrailingExitRealizesOneLot(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)
	prev.State = models.LegPartiallyExited
	prev.TrailTP = models.Px(113)
	prev.OptionClose = models.Px(109) // below tp: no ratchet

	next := Next(prev, activeInput("10:02", 114, 112.5, 113.5), p)
	if next.State != models.LegExited {
		t.Fatalf("state = %s, want EXITED at trail", next.State)
	}
	if next.ExitPrice.Value != 113 {
		t.Errorf("exit = %v, want 113", next.ExitPrice.Value)
	}
	if got, want := next.PnL.Value, (113.0-100.0)*1*75; math.Abs(got-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", got, want)
	}
}

func TestStopBeatsTrailWhilePartiallyExited(t *testing.T) {
	p := testParams()
	prev := enteredLeg(100, p)
	prev.State = models.LegPartiallyExited
	prev.TrailTP = models.Px(113)
	prev.OptionClose = models.Px(109)

	// Low touches both the stop (40) and the trail.
	next := Next(prev, activeInput("10:02", 114, 39, 45), p)
	if next.State != models.LegExited {
		t.Fatalf("state = %s, want EXITED", next.State)
	}
	if got := next.ExitPrice.Value; math.Abs(got-40) > 1e-9 {
		t.Errorf("exit = %v, want sl 40", got)
	}
}

func TestExitedIsFlatNextTick(t *testing.T) {
	p := testParams()
	prev := models.FlatLeg()
	prev.State = models.LegExited
	prev.CycleCount = 1

	next := Next(prev, activeInput("10:03", 105, 95, 100), p)
	if next.State != models.LegFlat {
		t.Fatalf("state = %s, want FLAT after exit", next.State)
	}
	if next.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1 until the next evaluation", next.CycleCount)
	}
}
