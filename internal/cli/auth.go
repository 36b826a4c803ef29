package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"breakout-trader/internal/broker"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth [request-token]",
		Short: "Authenticate with Zerodha Kite Connect",
		Long: `Without arguments, verifies the saved session or prints the login URL.
After completing the browser login, run again with the request token from
the redirect URL to finish authentication.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Broker == nil {
				return fmt.Errorf("no broker credentials configured; see credentials.toml")
			}
			kb, ok := app.Broker.(*broker.KiteBroker)
			if !ok {
				return fmt.Errorf("auth only applies to the Kite broker")
			}

			if len(args) == 1 {
				if err := kb.CompleteLogin(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Session saved. You are logged in.")
				return nil
			}

			if err := kb.Login(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Session is valid.")
			return nil
		},
	}
	return cmd
}
