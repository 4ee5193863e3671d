package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fiksisync/internal/storage"
)

// Export renders the stored history of one currency as CSV and/or a PNG
// chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.CurrencyCode == "" {
		return errors.New("--currency is required")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 365
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(-1, 0, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := store.RateHistory(ctx, opts.CurrencyCode, from, to, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("currency", opts.CurrencyCode).Msg("no rates found for export window")
		return nil
	}

	// History comes back newest first; exports read oldest first.
	reverseHistory(history)
	downsampled := downsampleHistory(history, opts.MaxPoints)
	a.Logger.Info().Int("total", len(history)).Int("exported", len(downsampled)).Msg("exporting rate history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.CurrencyCode, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func reverseHistory(history []storage.StoredRate) {
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
}

func downsampleHistory(history []storage.StoredRate, max int) []storage.StoredRate {
	if max <= 0 || len(history) <= max {
		return history
	}

	result := make([]storage.StoredRate, 0, max)
	step := float64(len(history)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(history) {
			idx = len(history) - 1
		}
		result = append(result, history[idx])
	}
	return result
}

func writeHistoryCSV(path string, history []storage.StoredRate) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"rate_date", "currency_code", "canonical_name", "rate", "rate_delta", "unit_multiplier", "scraped_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range history {
		record := []string{
			rec.RateDate.Format("2006-01-02"),
			rec.CurrencyCode,
			rec.CanonicalName,
			rec.Rate.String(),
			rec.RateDelta.String(),
			strconv.Itoa(rec.UnitMultiplier),
			rec.ScrapedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, currencyCode string, history []storage.StoredRate) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(history))
	rates := make([]float64, len(history))
	deltas := make([]float64, len(history))

	for i, rec := range history {
		x[i] = rec.RateDate
		rates[i] = rec.Rate.InexactFloat64()
		deltas[i] = rec.RateDelta.InexactFloat64()
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (ALL per " + currencyCode + ")",
			ValueFormatter: rateFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Daily Delta",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    currencyCode,
				XValues: x,
				YValues: rates,
			},
			chart.TimeSeries{
				Name:    "Delta",
				XValues: x,
				YValues: deltas,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
