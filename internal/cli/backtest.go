package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"breakout-trader/internal/backtest"
	"breakout-trader/internal/feed"
	"breakout-trader/internal/schedule"
	"breakout-trader/internal/strategy"
)

func newBacktestCmd(app *App) *cobra.Command {
	var (
		symbol  string
		from    string
		to      string
		outDir  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over historical option day files",
		Example: `  breakout-trader backtest --symbol NIFTY
  breakout-trader backtest --symbol BANKNIFTY --from 2020-01-01 --to 2020-12-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, ok := app.Config.Instrument(symbol)
			if !ok {
				return fmt.Errorf("unknown symbol %q", symbol)
			}

			tt, err := schedule.FromConfig(app.Config.Schedule, app.Config.Strategy.GapThreshold)
			if err != nil {
				return err
			}

			fromDate, toDate, err := parseRange(from, to)
			if err != nil {
				return err
			}

			params := strategy.Params{
				EntryBuffer: app.Config.Strategy.EntryBuffer,
				Target:      app.Config.Strategy.Target,
				StopLoss:    app.Config.Strategy.StopLoss,
				SLBuffer:    app.Config.Strategy.SLBuffer,
				LotSize:     inst.LotSize,
				TieBreak:    strategy.TieBreak(app.Config.Strategy.TieBreak),
				EntryCutoff: tt.EntryCutoff,
				ForcedClose: tt.ForcedClose,
			}

			f := feed.NewFileFeed(app.Config.Data.Dir, app.Config.Data.SpotDir)
			engine := backtest.NewEngine(f, tt, params, inst, app.Logger)

			if outDir == "" {
				outDir = app.Config.Data.OutputDir
			}
			res, err := engine.Run(cmd.Context(), backtest.Options{
				Symbol:  symbol,
				From:    fromDate,
				To:      toDate,
				OutDir:  outDir,
				Workers: workers,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Backtest complete: %d days run, %d skipped\n", res.DaysRun, res.DaysSkipped)
			fmt.Printf("Trades:  %s\n", res.TradesPath)
			fmt.Printf("Results: %s\n", res.ResultsPath)
			for _, s := range res.Summaries {
				fmt.Printf("  %d: %d trades, P&L %.2f\n", s.Year, s.Trades, float64(s.PnL))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "NIFTY", "underlying to backtest")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: data.output_dir)")
	cmd.Flags().IntVar(&workers, "workers", 0, "option file loader goroutines (0 = NumCPU)")
	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var fromDate, toDate time.Time
	var err error
	if from != "" {
		if fromDate, err = time.Parse("2006-01-02", from); err != nil {
			return fromDate, toDate, fmt.Errorf("bad --from date: %w", err)
		}
	}
	if to != "" {
		if toDate, err = time.Parse("2006-01-02", to); err != nil {
			return fromDate, toDate, fmt.Errorf("bad --to date: %w", err)
		}
	}
	if !fromDate.IsZero() && !toDate.IsZero() && toDate.Before(fromDate) {
		return fromDate, toDate, fmt.Errorf("--to is before --from")
	}
	return fromDate, toDate, nil
}
