package cli

import (
	"github.com/spf13/cobra"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Display configured tenants and their sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Tenants(cmd.Context())
	},
}
