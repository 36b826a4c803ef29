package schedule

import (
	"errors"
	"testing"
	"time"

	"breakout-trader/internal/config"
	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

func defaultTimetable(t *testing.T) *Timetable {
	t.Helper()
	tt, err := FromConfig(config.ScheduleConfig{
		EvalTimes:    []string{"09:16", "10:30", "11:45", "13:00", "14:15"},
		RefBarStarts: []string{"14:15", "09:15", "10:30", "11:45", "13:00"},
		RefBarEnds:   []string{"15:29", "10:29", "11:44", "12:59", "14:14"},
		GapTradeTime: "09:30",
		EntryCutoff:  "15:20",
		ForcedClose:  "15:19",
		MarketOpen:   "09:15",
		MarketClose:  "15:30",
	}, 0.0039)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	return tt
}

func sessionBars(date time.Time, close float64) []models.Bar {
	var bars []models.Bar
	for m := models.MustMinute("09:15"); m <= models.MustMinute("15:29"); m++ {
		bars = append(bars, models.Bar{
			Timestamp: m.At(date),
			Open:      close,
			High:      close + 20,
			Low:       close - 20,
			Close:     close,
		})
	}
	return bars
}

func TestClassify(t *testing.T) {
	tt := defaultTimetable(t)

	tests := []struct {
		minute string
		kind   TickKind
		idx    int
	}{
		{"09:15", TickDayOpen, -1},
		{"09:16", TickEval, 0},
		{"10:30", TickEval, 1},
		{"14:15", TickEval, 4},
		{"10:31", TickRegular, -1},
		{"15:19", TickRegular, -1},
	}
	for _, tc := range tests {
		kind, idx := tt.Classify(models.MustMinute(tc.minute))
		if kind != tc.kind || idx != tc.idx {
			t.Errorf("Classify(%s) = (%v, %d), want (%v, %d)", tc.minute, kind, idx, tc.kind, tc.idx)
		}
	}
}

func TestWindowAtLaterEvalsUseToday(t *testing.T) {
	tt := defaultTimetable(t)

	win, err := tt.WindowAt(2, nil, nil)
	if err != nil {
		t.Fatalf("WindowAt: %v", err)
	}
	if win.Day != WindowToday {
		t.Error("later evaluations must reference today's session")
	}
	if win.Start != models.MustMinute("10:30") || win.End != models.MustMinute("11:44") {
		t.Errorf("window = %s-%s, want 10:30-11:44", win.Start, win.End)
	}
	if win.EntryFrom != models.MustMinute("11:45") {
		t.Errorf("entry from = %s, want the evaluation time", win.EntryFrom)
	}
}

func TestWindowAtFirstEvalNoGap(t *testing.T) {
	tt := defaultTimetable(t)
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	prev := sessionBars(date.AddDate(0, 0, -1), 12000)
	today := sessionBars(date, 12010) // 0.08% move: below threshold

	win, err := tt.WindowAt(0, today, prev)
	if err != nil {
		t.Fatalf("WindowAt: %v", err)
	}
	if win.Gap {
		t.Error("gap = true, want false")
	}
	if win.Day != WindowPrevDay {
		t.Error("first evaluation without a gap must reference the previous session")
	}
	if win.Start != models.MustMinute("14:15") || win.End != models.MustMinute("15:29") {
		t.Errorf("window = %s-%s, want 14:15-15:29", win.Start, win.End)
	}
}

func TestWindowAtFirstEvalGap(t *testing.T) {
	tt := defaultTimetable(t)
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	prev := sessionBars(date.AddDate(0, 0, -1), 12000)
	today := sessionBars(date, 12100) // 0.83% gap

	win, err := tt.WindowAt(0, today, prev)
	if err != nil {
		t.Fatalf("WindowAt: %v", err)
	}
	if !win.Gap {
		t.Fatal("gap = false, want true")
	}
	if win.Day != WindowToday {
		t.Error("gap window must reference today")
	}
	if win.Start != models.MustMinute("09:15") || win.End != models.MustMinute("09:24") {
		t.Errorf("window = %s-%s, want 09:15-09:24", win.Start, win.End)
	}
	if win.EntryFrom != models.MustMinute("09:30") {
		t.Errorf("entry from = %s, want 09:30", win.EntryFrom)
	}
}

func TestWindowAtGapDownAlsoCounts(t *testing.T) {
	tt := defaultTimetable(t)
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	prev := sessionBars(date.AddDate(0, 0, -1), 12000)
	today := sessionBars(date, 11900)

	win, err := tt.WindowAt(0, today, prev)
	if err != nil {
		t.Fatalf("WindowAt: %v", err)
	}
	if !win.Gap {
		t.Error("a gap down at threshold must also defer entry")
	}
	if win.GapPct >= 0 {
		t.Errorf("gap pct = %v, want negative", win.GapPct)
	}
}

func TestWindowAtMissingGapBars(t *testing.T) {
	tt := defaultTimetable(t)
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	_, err := tt.WindowAt(0, sessionBars(date, 12000), nil)
	if !errors.Is(err, apperrors.ErrMissingReference) {
		t.Errorf("err = %v, want ErrMissingReference", err)
	}
}

func TestHighLow(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		{Timestamp: models.MustMinute("10:30").At(date), High: 105, Low: 95},
		{Timestamp: models.MustMinute("10:31").At(date), High: 110, Low: 99},
		{Timestamp: models.MustMinute("11:45").At(date), High: 500, Low: 1}, // outside
	}

	high, low := HighLow(bars, models.MustMinute("10:30"), models.MustMinute("11:44"))
	if high.Value != 110 || low.Value != 95 {
		t.Errorf("high/low = %v/%v, want 110/95", high, low)
	}

	high, low = HighLow(bars, models.MustMinute("13:00"), models.MustMinute("14:14"))
	if high.Valid || low.Valid {
		t.Error("empty window must be unknown, not zero")
	}
}
