package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-alerts/internal/app"
)

var (
	showMarket string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent spread records for a market",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showMarket == "" {
			return fmt.Errorf("--market must be provided")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Market: showMarket,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showMarket, "market", "", "Market identifier (e.g. btc-clp)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
