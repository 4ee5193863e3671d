package fixing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fiksisync/internal/currency"
)

// FetchError wraps upstream fetch failures. It is fatal for the run
// that requested the snapshot.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch fixing page %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetcherOptions parameterise the fixing page fetcher.
type FetcherOptions struct {
	BaseURL      string
	PagePath     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
	SourceName   string
}

// Fetcher retrieves the fixing page and assembles rate snapshots.
type Fetcher struct {
	opts   FetcherOptions
	parser *Parser
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewFetcher builds a snapshot fetcher.
func NewFetcher(opts FetcherOptions, logger zerolog.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.SourceName == "" {
		opts.SourceName = "Bank of Albania"
	}

	return &Fetcher{
		opts:   opts,
		parser: NewParser(logger),
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "fixing_fetcher").Logger(),
		now:    time.Now,
	}
}

// Fetch downloads and parses the current fixing, returning a validated
// snapshot. A zero-entry result is ErrEmptySnapshot; the assembled
// snapshot is still returned so callers can log what the document did
// carry (skip counts, upstream timestamp).
func (f *Fetcher) Fetch(ctx context.Context) (Snapshot, error) {
	document, err := f.download(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	result, err := f.parser.Parse(document)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse fixing page: %w", err)
	}

	snapshot := f.assemble(result)
	if len(snapshot.Rates) == 0 {
		return snapshot, ErrEmptySnapshot
	}

	f.logger.Info().
		Int("rates", len(snapshot.Rates)).
		Int("skipped_rows", result.Skipped).
		Time("rate_date", snapshot.RateDate).
		Msg("fixing snapshot assembled")

	return snapshot, nil
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	url := strings.TrimRight(f.opts.BaseURL, "/") + f.opts.PagePath

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * f.opts.RetryBackoff
			f.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying fixing page fetch")
			select {
			case <-ctx.Done():
				return nil, &FetchError{URL: url, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}

	return nil, &FetchError{URL: url, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// The page's declared charset is unreliable; the bytes are treated
	// as UTF-8 so Albanian currency labels survive intact.
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) assemble(result ParseResult) Snapshot {
	scrapedAt := f.now().UTC()

	// Absent an upstream timestamp the effective date falls back to
	// today. Logged because a stale page would then be mislabelled as
	// current.
	rateDate := truncateToDate(scrapedAt)
	if result.LastUpdated != nil {
		rateDate = truncateToDate(*result.LastUpdated)
	} else {
		f.logger.Warn().Msg("no last-update timestamp on page, defaulting rate date to today")
	}

	seen := make(map[string]bool, len(result.Entries))
	rates := make([]Rate, 0, len(result.Entries))
	for _, entry := range result.Entries {
		res := currency.Resolve(entry.Label)
		if !res.Resolved() {
			f.logger.Warn().Str("label", entry.Label).Msg("dropping row with unresolvable currency label")
			continue
		}
		if seen[res.Code] {
			f.logger.Warn().Str("currency", res.Code).Msg("duplicate currency in document, keeping first occurrence")
			continue
		}
		seen[res.Code] = true

		rates = append(rates, Rate{
			CurrencyCode:   res.Code,
			LocalizedName:  entry.Label,
			CanonicalName:  res.Name,
			Rate:           entry.Rate,
			UnitMultiplier: res.UnitMultiplier,
			RateDate:       rateDate,
		})
	}

	return Snapshot{
		RateDate:        rateDate,
		Rates:           rates,
		Source:          f.opts.SourceName,
		SourceTimestamp: result.LastUpdated,
		ScrapedAt:       scrapedAt,
		SkippedRows:     result.Skipped,
	}
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ SnapshotFetcher = (*Fetcher)(nil)
