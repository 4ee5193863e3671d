package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Tenants prints the status view of all configured tenants.
func (a *App) Tenants(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	statuses, err := store.ListTenantStatuses(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(os.Stdout, "no tenants configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Tenant\tName\tConnected\tActive\tSync\tToken\tLast Sync (UTC)")

	for _, st := range statuses {
		lastSync := "never"
		if st.LastSyncAt != nil {
			lastSync = st.LastSyncAt.UTC().Format(time.RFC3339)
		}
		tokenState := "valid"
		if st.TokenExpired {
			tokenState = "expired"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%t\t%t\t%t\t%s\t%s\n",
			st.TenantID,
			st.Name,
			st.Connected,
			st.Active,
			st.SyncEnabled,
			tokenState,
			lastSync,
		)
	}

	writer.Flush()
	return nil
}
