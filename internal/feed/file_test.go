package feed

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

const spotCSV = `Timestamp,Open,High,Low,Close,Volume,OI
2020-02-24 09:15:00,12000,12010,11990,12005,0,0
2020-02-24 15:29:00,12020,12030,12010,12025,0,0
2020-02-24 15:30:00,99999,99999,99999,99999,0,0
2020-02-25 09:15:00,12050,12060,12040,12055,0,0
2020-02-25 09:16:00,12055,12070,12050,12065,0,0
`

const optionCSV = `Ticker,Date,Time,Open,High,Low,Close,Volume,OI
NIFTY27FEB2012000CE.NFO,25/02/2020,09:15:59,100,105,95,102,10,0
NIFTY27FEB2012000CE.NFO,25/02/2020,09:16:59,102,112,101,111,10,0
NIFTY27FEB2012000PE.NFO,25/02/2020,09:15:59,90,91,88,89,5,0
NIFTY27FEB2012000CE.NFO,25/02/2020,15:30:59,200,200,200,200,1,0
`

func writeSpot(t *testing.T, dir, symbol, body string) {
	t.Helper()
	path := filepath.Join(dir, "spot_data_"+symbol+".csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeOptionDay(t *testing.T, f *FileFeed, date time.Time, body string) {
	t.Helper()
	path := f.OptionDayPath(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSpot(t *testing.T) {
	dir := t.TempDir()
	writeSpot(t, dir, "NIFTY", spotCSV)
	f := NewFileFeed(dir, dir)

	spot, err := f.LoadSpot("NIFTY")
	if err != nil {
		t.Fatalf("LoadSpot: %v", err)
	}
	if len(spot.Dates) != 2 {
		t.Fatalf("got %d dates, want 2", len(spot.Dates))
	}

	feb25 := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	bars := spot.Day(feb25)
	if len(bars) != 2 {
		t.Fatalf("got %d bars on 25th, want 2", len(bars))
	}
	if bars[0].Open != 12050 {
		t.Errorf("first bar open = %v, want 12050", bars[0].Open)
	}

	// The 15:30 auction print sits outside the session and must be dropped.
	feb24 := time.Date(2020, 2, 24, 0, 0, 0, 0, time.UTC)
	for _, b := range spot.Day(feb24) {
		if b.Close == 99999 {
			t.Error("out-of-session bar survived the load")
		}
	}

	prev, ok := spot.PrevDate(feb25)
	if !ok || prev.Day() != 24 {
		t.Errorf("PrevDate = %v, %v", prev, ok)
	}
	if _, ok := spot.PrevDate(feb24); ok {
		t.Error("first date must have no previous date")
	}
}

func TestLoadSpotMissingFile(t *testing.T) {
	f := NewFileFeed(t.TempDir(), t.TempDir())
	_, err := f.LoadSpot("NIFTY")
	var derr *apperrors.DataError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want DataError", err)
	}
}

func TestOptionDayPath(t *testing.T) {
	f := NewFileFeed("/data/options", "/data/spot")
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	want := filepath.Join("/data/options", "2020", "FEB-2020", "GFDLNFO_OPTIONS_25022020.csv")
	if got := f.OptionDayPath(date); got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestLoadOptionDay(t *testing.T) {
	f := NewFileFeed(t.TempDir(), t.TempDir())
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	writeOptionDay(t, f, date, optionCSV)

	day, err := f.LoadOptionDay(date)
	if err != nil {
		t.Fatalf("LoadOptionDay: %v", err)
	}
	if got := len(day.Tickers()); got != 2 {
		t.Fatalf("got %d tickers, want 2", got)
	}

	q := day.Quote("NIFTY27FEB2012000CE.NFO", models.MustMinute("09:16"))
	if !q.High.Valid || q.High.Value != 112 || q.Close.Value != 111 {
		t.Errorf("quote = %+v", q)
	}
	if q := day.Quote("NIFTY27FEB2012000CE.NFO", models.MustMinute("10:00")); q != models.NoQuote {
		t.Errorf("untraded minute = %+v, want unknown", q)
	}
	// 15:30 row is out of session.
	if q := day.Quote("NIFTY27FEB2012000CE.NFO", models.MustMinute("15:30")); q != models.NoQuote {
		t.Errorf("out-of-session quote = %+v, want unknown", q)
	}

	high, low := day.HighLow("NIFTY27FEB2012000CE.NFO", models.MustMinute("09:15"), models.MustMinute("09:24"))
	if high.Value != 112 || low.Value != 95 {
		t.Errorf("high/low = %v/%v, want 112/95", high, low)
	}
	high, low = day.HighLow("NOSUCH.NFO", models.MustMinute("09:15"), models.MustMinute("09:24"))
	if high.Valid || low.Valid {
		t.Error("unknown ticker must yield unknown high/low")
	}
}

func TestLoadOptionDayMissingFile(t *testing.T) {
	f := NewFileFeed(t.TempDir(), t.TempDir())
	_, err := f.LoadOptionDay(time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC))
	var derr *apperrors.DataError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want DataError", err)
	}
}

func TestListOptionDays(t *testing.T) {
	f := NewFileFeed(t.TempDir(), t.TempDir())
	d1 := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)
	writeOptionDay(t, f, d2, optionCSV)
	writeOptionDay(t, f, d1, optionCSV)

	dates, err := f.ListOptionDays()
	if err != nil {
		t.Fatalf("ListOptionDays: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("got %d dates, want 2", len(dates))
	}
	if !dates[0].Before(dates[1]) {
		t.Error("dates must sort ascending")
	}
	if dates[0].Day() != 25 || dates[1].Day() != 2 {
		t.Errorf("dates = %v", dates)
	}
}
