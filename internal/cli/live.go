package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"breakout-trader/internal/broker"
	"breakout-trader/internal/feed"
	"breakout-trader/internal/live"
	"breakout-trader/internal/schedule"
)

func newLiveCmd(app *App) *cobra.Command {
	var paper bool

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run the strategy against the broker for today's session",
		Long: `Polls within the trading session, seeds a reference window at each
evaluation time, and manages the entry, stop, target and trailing orders
for both legs of each configured underlying.

With --paper, orders are simulated in memory while market data still
comes from the broker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Broker == nil {
				return fmt.Errorf("no broker credentials configured; see credentials.toml")
			}

			b := app.Broker
			if paper {
				b = broker.NewPaperBroker(app.Broker)
				app.Logger.Info().Msg("paper trading: orders are simulated")
			}

			tt, err := schedule.FromConfig(app.Config.Schedule, app.Config.Strategy.GapThreshold)
			if err != nil {
				return err
			}

			st, err := app.openStore()
			if err != nil {
				app.Logger.Warn().Err(err).Msg("audit store unavailable; running without it")
				st = nil
			}

			f := feed.NewBrokerFeed(b, app.Logger)
			runner := live.NewRunner(b, f, st, tt, app.Config, app.Logger)
			return runner.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&paper, "paper", false, "simulate orders instead of sending them")
	return cmd
}
