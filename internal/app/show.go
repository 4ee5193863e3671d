package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the stored fixing rates for one date.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if opts.Date != "" {
		date, err = time.Parse("2006-01-02", opts.Date)
		if err != nil {
			return fmt.Errorf("invalid --date value: %w", err)
		}
	}

	rates, err := store.RatesForDate(ctx, date)
	if err != nil {
		return err
	}
	if len(rates) == 0 {
		fmt.Fprintf(os.Stdout, "no rates stored for %s\n", date.Format("2006-01-02"))
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tRate (ALL)\tPer Units\tDate")

	limit := len(rates)
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	for _, rate := range rates[:limit] {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\n",
			rate.CurrencyCode,
			rate.CanonicalName,
			formatDecimal(rate.Rate, 4),
			rate.UnitMultiplier,
			rate.RateDate.Format("2006-01-02"),
		)
	}

	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
