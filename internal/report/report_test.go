package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"breakout-trader/internal/models"
)

func tick(date time.Time, minute string, call models.LegSnapshot) models.TickRecord {
	return models.TickRecord{
		Symbol: "NIFTY",
		Date:   date,
		Minute: models.MustMinute(minute),
		Call:   call,
		Put:    models.FlatLeg(),
	}
}

func exit(pnl float64) models.LegSnapshot {
	return models.LegSnapshot{State: models.LegExited, PnL: models.Px(pnl)}
}

func partial(pnl float64) models.LegSnapshot {
	return models.LegSnapshot{State: models.LegPartiallyExited, PnL: models.Px(pnl)}
}

func TestSummarizeBasicMetrics(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	records := []models.TickRecord{
		tick(date, "09:40", exit(10)),
		tick(date, "10:50", exit(20)),
		tick(date, "11:55", exit(30)),
		tick(date, "13:10", exit(-15)),
		tick(date, "14:30", exit(-5)),
	}

	summaries := Summarize(records)
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	s := summaries[0]

	if s.Year != 2020 || s.Days != 1 {
		t.Errorf("year/days = %d/%d, want 2020/1", s.Year, s.Days)
	}
	if s.Trades != 5 || s.WinningTrades != 3 || s.LosingTrades != 2 {
		t.Errorf("trades/wins/losses = %d/%d/%d, want 5/3/2", s.Trades, s.WinningTrades, s.LosingTrades)
	}
	if got := float64(s.PnL); got != 40 {
		t.Errorf("pnl = %v, want 40", got)
	}
	if got := float64(s.WinRate); got != 0.6 {
		t.Errorf("win rate = %v, want 0.6", got)
	}
	if got := float64(s.AvgWin); got != 20 {
		t.Errorf("avg win = %v, want 20", got)
	}
	if got := float64(s.AvgLoss); got != -10 {
		t.Errorf("avg loss = %v, want -10", got)
	}
	if got := float64(s.RiskReward); got != 2 {
		t.Errorf("risk/reward = %v, want 2", got)
	}
	// avgWin*winRate + avgLoss*(1-winRate) = 20*0.6 + (-10)*0.4
	if got := float64(s.Expectancy); math.Abs(got-8) > 1e-9 {
		t.Errorf("expectancy = %v, want 8", got)
	}
}

func TestSummarizePartialExitsFeedAveragesNotCounts(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	records := []models.TickRecord{
		tick(date, "09:40", partial(50)), // partial exit: P&L counts, trade does not
		tick(date, "10:00", exit(30)),
	}

	s := Summarize(records)[0]
	if s.Trades != 1 || s.WinningTrades != 1 {
		t.Errorf("trades/wins = %d/%d, want 1/1", s.Trades, s.WinningTrades)
	}
	// The single winning trade averages over every winning chunk.
	if got := float64(s.AvgWin); got != 80 {
		t.Errorf("avg win = %v, want 80", got)
	}
	if got := float64(s.PnL); got != 80 {
		t.Errorf("pnl = %v, want 80", got)
	}
}

func TestSummarizeNoLosersYieldsBlankRatios(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	s := Summarize([]models.TickRecord{tick(date, "09:40", exit(10))})[0]
	if !math.IsNaN(float64(s.AvgLoss)) {
		t.Errorf("avg loss = %v, want NaN", float64(s.AvgLoss))
	}
	if !math.IsNaN(float64(s.RiskReward)) {
		t.Errorf("risk/reward = %v, want NaN", float64(s.RiskReward))
	}
	// No drawdown means the Calmar denominator is zero.
	if !math.IsNaN(float64(s.Calmar)) {
		t.Errorf("calmar = %v, want NaN", float64(s.Calmar))
	}
}

func TestSummarizeDrawdown(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	// cum: 100, 60, 20, 70. Running max 100, trough 20.
	records := []models.TickRecord{
		tick(date, "09:40", exit(100)),
		tick(date, "10:50", exit(-40)),
		tick(date, "11:55", exit(-40)),
		tick(date, "13:10", exit(50)),
	}

	s := Summarize(records)[0]
	if got := float64(s.MaxDrawdown); got != 80 {
		t.Errorf("max drawdown = %v, want 80", got)
	}
	if got := float64(s.Calmar); math.Abs(got-70.0/80.0) > 1e-9 {
		t.Errorf("calmar = %v, want %v", got, 70.0/80.0)
	}
}

func TestSummarizeResetsPerYear(t *testing.T) {
	records := []models.TickRecord{
		tick(time.Date(2020, 12, 30, 0, 0, 0, 0, time.UTC), "09:40", exit(-100)),
		tick(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), "09:40", exit(25)),
	}

	summaries := Summarize(records)
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].Year != 2020 || summaries[1].Year != 2021 {
		t.Errorf("years = %d, %d", summaries[0].Year, summaries[1].Year)
	}
	if got := float64(summaries[1].MaxDrawdown); got != 0 {
		t.Errorf("2021 drawdown = %v, want 0: drawdown must reset each year", got)
	}
}

func TestSummarizeUnknownPnLExitCountsAsTradeOnly(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)

	leg := models.LegSnapshot{State: models.LegExited, PnL: models.NoPrice}
	s := Summarize([]models.TickRecord{tick(date, "09:40", leg)})[0]
	if s.Trades != 1 || s.WinningTrades != 0 || s.LosingTrades != 0 {
		t.Errorf("trades/wins/losses = %d/%d/%d, want 1/0/0", s.Trades, s.WinningTrades, s.LosingTrades)
	}
}

func TestMetricCSV(t *testing.T) {
	if s, _ := Metric(122.1).MarshalCSV(); s != "122.1000" {
		t.Errorf("MarshalCSV = %q, want %q", s, "122.1000")
	}
	if s, _ := Metric(math.NaN()).MarshalCSV(); s != "" {
		t.Errorf("NaN MarshalCSV = %q, want empty", s)
	}

	var m Metric
	if err := m.UnmarshalCSV(""); err != nil {
		t.Fatalf("UnmarshalCSV: %v", err)
	}
	if !math.IsNaN(float64(m)) {
		t.Errorf("empty cell = %v, want NaN", float64(m))
	}
	if err := m.UnmarshalCSV("40.5"); err != nil || float64(m) != 40.5 {
		t.Errorf("UnmarshalCSV(40.5) = %v, %v", float64(m), err)
	}
}

func TestFilenames(t *testing.T) {
	if got := TradesFilename("NIFTY", 0.1); got != "backtest_trades_NIFTY_TP10.csv" {
		t.Errorf("trades filename = %q", got)
	}
	if got := ResultsFilename("BANKNIFTY", 0.15); got != "backtest_results_BANKNIFTY_TP15.csv" {
		t.Errorf("results filename = %q", got)
	}
}

func TestWriteCSVsAreReadable(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	records := []models.TickRecord{
		tick(date, "09:16", models.FlatLeg()),
		tick(date, "09:40", exit(10)),
	}

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, TradesFilename("NIFTY", 0.1))
	if err := WriteTrades(tradesPath, records); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	resultsPath := filepath.Join(dir, ResultsFilename("NIFTY", 0.1))
	if err := WriteResults(resultsPath, Summarize(records)); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	for _, path := range []string{tradesPath, resultsPath} {
		body, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if len(body) == 0 {
			t.Errorf("%s is empty", path)
		}
	}
}

func TestRowsRenderUnknownAsBlank(t *testing.T) {
	date := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	r := tick(date, "09:16", models.FlatLeg())
	r.WindowHigh = models.Px(110)

	rows := Rows([]models.TickRecord{r})
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	row := rows[0]
	if float64(row.WindowHigh) != 110 {
		t.Errorf("window high = %v, want 110", float64(row.WindowHigh))
	}
	if !math.IsNaN(float64(row.CallEntry)) {
		t.Errorf("flat leg entry = %v, want NaN", float64(row.CallEntry))
	}
	if row.Date != "2020-02-25" || row.Time != "09:16" {
		t.Errorf("date/time = %q/%q", row.Date, row.Time)
	}
}
