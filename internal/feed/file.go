package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// spotRow is one row of a spot_data_<SYMBOL>.csv file.
type spotRow struct {
	Timestamp string  `csv:"Timestamp"`
	Open      float64 `csv:"Open"`
	High      float64 `csv:"High"`
	Low       float64 `csv:"Low"`
	Close     float64 `csv:"Close"`
	Volume    int64   `csv:"Volume"`
	OI        int64   `csv:"OI"`
}

// optionRow is one row of a GFDL per-day options file.
type optionRow struct {
	Ticker string  `csv:"Ticker"`
	Date   string  `csv:"Date"`
	Time   string  `csv:"Time"`
	Open   float64 `csv:"Open"`
	High   float64 `csv:"High"`
	Low    float64 `csv:"Low"`
	Close  float64 `csv:"Close"`
	Volume int64   `csv:"Volume"`
	OI     int64   `csv:"OI"`
}

// FileFeed reads backtest data from flat CSV files: one spot series per
// underlying and one options file per trading day, laid out as
// <dir>/<year>/<MON-year>/GFDLNFO_OPTIONS_<ddmmyyyy>.csv.
type FileFeed struct {
	dataDir string
	spotDir string
}

// NewFileFeed creates a file-backed feed.
func NewFileFeed(dataDir, spotDir string) *FileFeed {
	return &FileFeed{dataDir: dataDir, spotDir: spotDir}
}

// SpotSeries is an underlying's full minute-bar history, grouped by day.
type SpotSeries struct {
	Dates []time.Time // sorted trading dates
	days  map[string][]models.Bar
}

// Day returns the bars of one trading date.
func (s *SpotSeries) Day(date time.Time) []models.Bar {
	return s.days[dayKey(date)]
}

// PrevDate returns the trading date immediately before date.
func (s *SpotSeries) PrevDate(date time.Time) (time.Time, bool) {
	for i, d := range s.Dates {
		if sameDay(d, date) {
			if i == 0 {
				return time.Time{}, false
			}
			return s.Dates[i-1], true
		}
	}
	return time.Time{}, false
}

// LoadSpot reads spot_data_<SYMBOL>.csv and groups it into session-filtered
// trading days.
func (f *FileFeed) LoadSpot(symbol string) (*SpotSeries, error) {
	path := filepath.Join(f.spotDir, fmt.Sprintf("spot_data_%s.csv", symbol))
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewDataError("spot", symbol, err)
	}
	defer file.Close()

	var rows []spotRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, apperrors.NewDataError("spot", symbol, err)
	}

	series := &SpotSeries{days: make(map[string][]models.Bar)}
	for _, r := range rows {
		ts, err := time.Parse("2006-01-02 15:04:05", r.Timestamp)
		if err != nil {
			return nil, apperrors.NewDataError("spot", symbol, fmt.Errorf("bad timestamp %q: %w", r.Timestamp, err))
		}
		if !sessionBar(models.MinuteOf(ts)) {
			continue
		}
		key := dayKey(ts)
		if _, seen := series.days[key]; !seen {
			series.Dates = append(series.Dates, ts.Truncate(24*time.Hour))
		}
		series.days[key] = append(series.days[key], models.Bar{
			Timestamp: ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	sort.Slice(series.Dates, func(i, j int) bool { return series.Dates[i].Before(series.Dates[j]) })
	return series, nil
}

// OptionDay holds one trading day's option bars, indexed by ticker.
type OptionDay struct {
	bars    map[string]map[models.MinuteOfDay]models.Bar
	tickers []string
}

// Tickers lists every ticker that traded during the day.
func (d *OptionDay) Tickers() []string {
	return d.tickers
}

// Quote returns the ticker's bar at a minute; unknown prices when the
// contract did not trade that minute.
func (d *OptionDay) Quote(ticker string, m models.MinuteOfDay) models.OptionQuote {
	bar, ok := d.bars[ticker][m]
	if !ok {
		return models.NoQuote
	}
	return models.OptionQuote{
		High:  models.Px(bar.High),
		Low:   models.Px(bar.Low),
		Close: models.Px(bar.Close),
	}
}

// HighLow returns the ticker's high and low over [start, end]; unknown
// when it has no bars in the window.
func (d *OptionDay) HighLow(ticker string, start, end models.MinuteOfDay) (models.Price, models.Price) {
	var high, low models.Price
	for m, bar := range d.bars[ticker] {
		if m < start || m > end {
			continue
		}
		if !high.Valid || bar.High > high.Value {
			high = models.Px(bar.High)
		}
		if !low.Valid || bar.Low < low.Value {
			low = models.Px(bar.Low)
		}
	}
	return high, low
}

// OptionDayPath returns the per-day options file path for a date.
func (f *FileFeed) OptionDayPath(date time.Time) string {
	monthYear := strings.ToUpper(date.Format("Jan-2006"))
	name := fmt.Sprintf("GFDLNFO_OPTIONS_%s.csv", date.Format("02012006"))
	return filepath.Join(f.dataDir, date.Format("2006"), monthYear, name)
}

// LoadOptionDay reads one day's options file. A missing or unparseable
// file is a DataError; callers skip the day and continue.
func (f *FileFeed) LoadOptionDay(date time.Time) (*OptionDay, error) {
	path := f.OptionDayPath(date)
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewDataError("options", date.Format("2006-01-02"), err)
	}
	defer file.Close()

	var rows []optionRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, apperrors.NewDataError("options", date.Format("2006-01-02"), err)
	}

	day := &OptionDay{bars: make(map[string]map[models.MinuteOfDay]models.Bar)}
	for _, r := range rows {
		m, err := parseFeedMinute(r.Time)
		if err != nil || !sessionBar(m) {
			continue
		}
		if _, seen := day.bars[r.Ticker]; !seen {
			day.bars[r.Ticker] = make(map[models.MinuteOfDay]models.Bar)
			day.tickers = append(day.tickers, r.Ticker)
		}
		day.bars[r.Ticker][m] = models.Bar{
			Timestamp: m.At(date),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return day, nil
}

// ListOptionDays walks the data directory and returns the dates of every
// per-day options file found, sorted ascending.
func (f *FileFeed) ListOptionDays() ([]time.Time, error) {
	var dates []time.Time
	err := filepath.WalkDir(f.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if !strings.HasPrefix(name, "GFDLNFO_OPTIONS_") || !strings.HasSuffix(name, ".csv") {
			return nil
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "GFDLNFO_OPTIONS_"), ".csv")
		date, perr := time.Parse("02012006", raw)
		if perr != nil {
			return nil
		}
		dates = append(dates, date)
		return nil
	})
	if err != nil {
		return nil, apperrors.NewDataError("options", f.dataDir, err)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// parseFeedMinute parses the options file's Time column. The feed writes
// HH:MM:SS; seconds are noise at minute resolution and are dropped.
func parseFeedMinute(s string) (models.MinuteOfDay, error) {
	if len(s) > 5 {
		s = s[:5]
	}
	return models.ParseMinute(s)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func sameDay(a, b time.Time) bool {
	return dayKey(a) == dayKey(b)
}
