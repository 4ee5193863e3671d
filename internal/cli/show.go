package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fiksisync/internal/app"
)

var (
	showDate  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored rates for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		opts := app.ShowOptions{
			Date:  showDate,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showDate, "date", "", "Effective date to display (YYYY-MM-DD, defaults to today)")
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Maximum rows to display (0 means all)")
}
