// Package report aggregates tick records into per-year performance
// metrics and writes the trade and result CSV outputs.
package report

import (
	"fmt"
	"math"
	"os"

	"github.com/gocarina/gocsv"

	"breakout-trader/internal/models"
)

// YearSummary holds one year's performance metrics. Ratio fields are NaN
// when their denominator is empty; the CSV writer renders those as blank
// cells.
type YearSummary struct {
	Year          int    `csv:"Year"`
	Days          int    `csv:"Days"`
	Trades        int    `csv:"No. Trades"`
	PnL           Metric `csv:"P&L Points"`
	WinningTrades int    `csv:"Winning Trades"`
	LosingTrades  int    `csv:"Losing Trades"`
	WinRate       Metric `csv:"Win %"`
	AvgWin        Metric `csv:"Avg. Win"`
	AvgLoss       Metric `csv:"Avg. Loss"`
	RiskReward    Metric `csv:"R/R"`
	MaxDrawdown   Metric `csv:"Max DD"`
	Calmar        Metric `csv:"Calmar Ratio"`
	Expectancy    Metric `csv:"Expectancy"`
}

// Metric is a float metric that serializes NaN as an empty CSV cell.
type Metric float64

func (m Metric) MarshalCSV() (string, error) {
	if math.IsNaN(float64(m)) {
		return "", nil
	}
	return fmt.Sprintf("%.4f", float64(m)), nil
}

func (m *Metric) UnmarshalCSV(s string) error {
	if s == "" {
		*m = Metric(math.NaN())
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return err
	}
	*m = Metric(v)
	return nil
}

type yearAcc struct {
	year   int
	dates  map[string]struct{}
	trades int
	wins   int
	losses int
	pnl    float64
	// winSum and lossSum accumulate every realized chunk of the matching
	// sign, including partial exits, while the trade counts only cover
	// full-exit records. The averages keep that asymmetry.
	winSum  float64
	lossSum float64
	cum     float64
	runMax  float64
	minDD   float64
}

// Summarize folds chronologically ordered tick records into one summary
// per calendar year. Drawdown is tick-level: the cumulative P&L of every
// record against its running maximum, reset each year.
func Summarize(records []models.TickRecord) []YearSummary {
	var order []int
	accs := make(map[int]*yearAcc)

	for i := range records {
		r := &records[i]
		y := r.Date.Year()
		acc, ok := accs[y]
		if !ok {
			acc = &yearAcc{year: y, dates: make(map[string]struct{})}
			accs[y] = acc
			order = append(order, y)
		}
		acc.dates[r.Date.Format("2006-01-02")] = struct{}{}

		acc.foldLeg(&r.Call)
		acc.foldLeg(&r.Put)

		acc.cum += r.PnL()
		if acc.cum > acc.runMax {
			acc.runMax = acc.cum
		}
		if dd := acc.cum - acc.runMax; dd < acc.minDD {
			acc.minDD = dd
		}
	}

	out := make([]YearSummary, 0, len(order))
	for _, y := range order {
		out = append(out, accs[y].summary())
	}
	return out
}

func (a *yearAcc) foldLeg(leg *models.LegSnapshot) {
	if leg.PnL.Valid {
		if leg.PnL.Value > 0 {
			a.winSum += leg.PnL.Value
		} else {
			a.lossSum += leg.PnL.Value
		}
	}
	if leg.State == models.LegExited {
		a.trades++
		switch {
		case leg.PnL.Valid && leg.PnL.Value > 0:
			a.wins++
		case leg.PnL.Valid:
			a.losses++
		}
	}
	a.pnl += legPnL(leg)
}

func legPnL(leg *models.LegSnapshot) float64 {
	if leg.PnL.Valid {
		return leg.PnL.Value
	}
	return 0
}

func (a *yearAcc) summary() YearSummary {
	s := YearSummary{
		Year:          a.year,
		Days:          len(a.dates),
		Trades:        a.trades,
		PnL:           Metric(a.pnl),
		WinningTrades: a.wins,
		LosingTrades:  a.losses,
	}

	winRate := safeDiv(float64(a.wins), float64(a.wins+a.losses))
	avgWin := safeDiv(a.winSum, float64(a.wins))
	avgLoss := safeDiv(a.lossSum, float64(a.losses))

	maxDD := 0.0
	if a.minDD < 0 {
		maxDD = -a.minDD
	}

	s.WinRate = Metric(winRate)
	s.AvgWin = Metric(avgWin)
	s.AvgLoss = Metric(avgLoss)
	s.RiskReward = Metric(safeDiv(avgWin, math.Abs(avgLoss)))
	s.MaxDrawdown = Metric(maxDD)
	s.Calmar = Metric(safeDiv(a.pnl, maxDD))
	s.Expectancy = Metric(avgWin*winRate + avgLoss*(1-winRate))
	return s
}

// safeDiv returns NaN instead of dividing by zero, so a year with no
// winners or no losers reports blank ratios rather than infinities.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// TradeRow is one tick record flattened for the trades CSV.
type TradeRow struct {
	Date        string `csv:"Date"`
	Time        string `csv:"Time"`
	Symbol      string `csv:"Symbol"`
	SpotOpen    Metric `csv:"Open"`
	SpotHigh    Metric `csv:"High"`
	SpotLow     Metric `csv:"Low"`
	SpotClose   Metric `csv:"Close"`
	WindowHigh  Metric `csv:"Window High"`
	WindowLow   Metric `csv:"Window Low"`
	CallStrike  Metric `csv:"Call Strike"`
	PutStrike   Metric `csv:"Put Strike"`
	CallTicker  string `csv:"Call Ticker"`
	CallState   string `csv:"Call State"`
	CallEntry   Metric `csv:"Call Entry"`
	CallTP      Metric `csv:"Call TP"`
	CallTrailTP Metric `csv:"Call Trail TP"`
	CallSL      Metric `csv:"Call SL"`
	CallExit    Metric `csv:"Call Exit"`
	CallPnL     Metric `csv:"Call P&L"`
	PutTicker   string `csv:"Put Ticker"`
	PutState    string `csv:"Put State"`
	PutEntry    Metric `csv:"Put Entry"`
	PutTP       Metric `csv:"Put TP"`
	PutTrailTP  Metric `csv:"Put Trail TP"`
	PutSL       Metric `csv:"Put SL"`
	PutExit     Metric `csv:"Put Exit"`
	PutPnL      Metric `csv:"Put P&L"`
	PnL         Metric `csv:"P&L"`
}

// Rows flattens tick records into trade rows in order.
func Rows(records []models.TickRecord) []*TradeRow {
	rows := make([]*TradeRow, 0, len(records))
	for i := range records {
		rows = append(rows, row(&records[i]))
	}
	return rows
}

func row(r *models.TickRecord) *TradeRow {
	return &TradeRow{
		Date:        r.Date.Format("2006-01-02"),
		Time:        r.Minute.String(),
		Symbol:      r.Symbol,
		SpotOpen:    Metric(r.SpotOpen),
		SpotHigh:    Metric(r.SpotHigh),
		SpotLow:     Metric(r.SpotLow),
		SpotClose:   Metric(r.SpotClose),
		WindowHigh:  metric(r.WindowHigh),
		WindowLow:   metric(r.WindowLow),
		CallStrike:  Metric(float64(r.CallStrike)),
		PutStrike:   Metric(float64(r.PutStrike)),
		CallTicker:  r.Call.Ticker,
		CallState:   string(r.Call.State),
		CallEntry:   metric(r.Call.EntryPrice),
		CallTP:      metric(r.Call.TP),
		CallTrailTP: metric(r.Call.TrailTP),
		CallSL:      metric(r.Call.SL),
		CallExit:    metric(r.Call.ExitPrice),
		CallPnL:     metric(r.Call.PnL),
		PutTicker:   r.Put.Ticker,
		PutState:    string(r.Put.State),
		PutEntry:    metric(r.Put.EntryPrice),
		PutTP:       metric(r.Put.TP),
		PutTrailTP:  metric(r.Put.TrailTP),
		PutSL:       metric(r.Put.SL),
		PutExit:     metric(r.Put.ExitPrice),
		PutPnL:      metric(r.Put.PnL),
		PnL:         Metric(r.PnL()),
	}
}

func metric(p models.Price) Metric {
	if !p.Valid {
		return Metric(math.NaN())
	}
	return Metric(p.Value)
}

// TradesFilename and ResultsFilename name the backtest outputs the way
// downstream notebooks expect them: symbol plus the target percentage.
func TradesFilename(symbol string, target float64) string {
	return fmt.Sprintf("backtest_trades_%s_TP%g.csv", symbol, target*100)
}

func ResultsFilename(symbol string, target float64) string {
	return fmt.Sprintf("backtest_results_%s_TP%g.csv", symbol, target*100)
}

// WriteTrades writes the flattened tick records to path.
func WriteTrades(path string, records []models.TickRecord) error {
	return writeCSV(path, Rows(records))
}

// WriteResults writes the per-year summaries to path.
func WriteResults(path string, summaries []YearSummary) error {
	rows := make([]*YearSummary, 0, len(summaries))
	for i := range summaries {
		rows = append(rows, &summaries[i])
	}
	return writeCSV(path, rows)
}

func writeCSV[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := gocsv.Marshal(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
