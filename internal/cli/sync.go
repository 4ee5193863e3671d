package cli

import (
	"time"

	"github.com/spf13/cobra"

	"fiksisync/internal/app"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync immediately and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SyncOptions{
			Timeout: syncTimeout,
		}
		return getApp().Sync(cmd.Context(), opts)
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 0, "Bound the whole run (0 means no bound)")
}
