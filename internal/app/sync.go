package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fiksisync/internal/syncer"
)

// Sync executes one sync run immediately and prints the run report as
// JSON. The report is returned even on a failed run so partial results
// stay visible.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, opts.Timeout)
		defer timeoutCancel()
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orchestrator, err := a.newOrchestrator(store)
	if err != nil {
		return err
	}

	report, runErr := orchestrator.RunNow(ctx)
	if printErr := printReport(report); printErr != nil {
		return printErr
	}
	return runErr
}

func printReport(report syncer.Report) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
