package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"breakout-trader/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			c := app.Config
			fmt.Println("[strategy]")
			fmt.Printf("  entry_buffer  = %g\n", c.Strategy.EntryBuffer)
			fmt.Printf("  target        = %g\n", c.Strategy.Target)
			fmt.Printf("  stop_loss     = %g\n", c.Strategy.StopLoss)
			fmt.Printf("  sl_buffer     = %g\n", c.Strategy.SLBuffer)
			fmt.Printf("  gap_threshold = %g\n", c.Strategy.GapThreshold)
			fmt.Printf("  lots_scale    = %d\n", c.Strategy.LotsScale)
			fmt.Printf("  tie_break     = %s\n", c.Strategy.TieBreak)
			fmt.Println("[schedule]")
			fmt.Printf("  eval_times    = %s\n", strings.Join(c.Schedule.EvalTimes, ", "))
			fmt.Printf("  gap_trade     = %s\n", c.Schedule.GapTradeTime)
			fmt.Printf("  entry_cutoff  = %s\n", c.Schedule.EntryCutoff)
			fmt.Printf("  forced_close  = %s\n", c.Schedule.ForcedClose)
			fmt.Println("[instruments]")
			for symbol, spec := range c.Instruments {
				fmt.Printf("  %-10s lot %d, strike increment %d\n", symbol, spec.LotSize, spec.StrikeIncrement)
			}
			fmt.Println("[data]")
			fmt.Printf("  dir        = %s\n", c.Data.Dir)
			fmt.Printf("  spot_dir   = %s\n", c.Data.SpotDir)
			fmt.Printf("  output_dir = %s\n", c.Data.OutputDir)
			fmt.Printf("  db_path    = %s\n", c.Data.DBPath)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.DefaultConfigDir())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid.")
			return nil
		},
	})

	return cmd
}
