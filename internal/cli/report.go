package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"breakout-trader/internal/report"
	"breakout-trader/internal/store"
)

func newReportCmd(app *App) *cobra.Command {
	var (
		symbol string
		from   string
		to     string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize live trading history from the audit database",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.openStore()
			if err != nil {
				return err
			}

			fromDate, toDate, err := parseRange(from, to)
			if err != nil {
				return err
			}

			records, err := st.GetTickRecords(cmd.Context(), store.RecordFilter{
				Symbol:    symbol,
				StartDate: fromDate,
				EndDate:   toDate,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No records found.")
				return nil
			}

			summaries := report.Summarize(records)
			fmt.Printf("%-6s %6s %8s %12s %6s %8s %8s %10s\n",
				"Year", "Days", "Trades", "P&L", "Win%", "AvgWin", "AvgLoss", "MaxDD")
			for _, s := range summaries {
				fmt.Printf("%-6d %6d %8d %12.2f %6.1f %8.2f %8.2f %10.2f\n",
					s.Year, s.Days, s.Trades, float64(s.PnL),
					float64(s.WinRate)*100, float64(s.AvgWin), float64(s.AvgLoss),
					float64(s.MaxDrawdown))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by underlying")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", time.Now().Format("2006-01-02"), "end date (YYYY-MM-DD)")
	return cmd
}
