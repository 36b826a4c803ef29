// Package cli provides the command-line interface for the trader.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"breakout-trader/internal/broker"
	"breakout-trader/internal/config"
	"breakout-trader/internal/store"
)

const Version = "0.1.0"

// App holds the application dependencies shared by the commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Broker broker.Broker
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Credentials.Zerodha.APIKey != "" {
		app.Broker = broker.NewKiteBroker(broker.KiteConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
			UserID:    cfg.Credentials.Zerodha.UserID,
		})
		logger.Debug().Msg("kite broker initialized")
	}

	rootCmd := &cobra.Command{
		Use:     "breakout-trader",
		Short:   "Intraday index options breakout trader",
		Version: Version,
		Long: `breakout-trader evaluates an intraday options-buying strategy on NSE
index options: five evaluations a day, a 75-minute reference window per
evaluation, and a two-lot breakout entry with partial profit taking.

It backtests over per-day option files and trades live through Zerodha
Kite Connect.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/breakout-trader)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newLiveCmd(app))
	rootCmd.AddCommand(newReportCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))

	return rootCmd
}

// openStore opens the audit database lazily; commands that never touch
// it don't create the file.
func (a *App) openStore() (store.DataStore, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	dbPath := a.Config.Data.DBPath
	if dbPath == "" {
		dbPath = config.DefaultConfigDir() + "/trader.db"
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	a.Store = st
	return st, nil
}
