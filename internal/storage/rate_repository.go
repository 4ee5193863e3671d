package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fiksisync/internal/fixing"
)

const (
	selectRateForUpdateSQL = `SELECT id, rate FROM exchange_rates
    WHERE currency_code = $1 AND rate_date = $2;`

	insertRateSQL = `INSERT INTO exchange_rates (
        currency_code,
        localized_name,
        canonical_name,
        rate,
        rate_delta,
        unit_multiplier,
        rate_date,
        source,
        scraped_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	updateRateSQL = `UPDATE exchange_rates
    SET rate = $2, rate_delta = $3, scraped_at = $4, updated_at = now()
    WHERE id = $1;`

	listRatesForDateSQL = `SELECT
        currency_code,
        localized_name,
        canonical_name,
        rate,
        unit_multiplier,
        rate_date
    FROM exchange_rates
    WHERE rate_date = $1
    ORDER BY currency_code;`

	listRateHistorySQL = `SELECT
        id,
        currency_code,
        localized_name,
        canonical_name,
        rate,
        rate_delta,
        unit_multiplier,
        rate_date,
        source,
        scraped_at,
        created_at,
        updated_at
    FROM exchange_rates
    WHERE currency_code = $1
      AND rate_date >= $2
      AND rate_date < $3
    ORDER BY rate_date DESC
    LIMIT $4;`

	insertScrapeLogSQL = `INSERT INTO scrape_logs (
        scraped_at,
        success,
        rates_found,
        rows_skipped,
        source_timestamp,
        error
    ) VALUES ($1,$2,$3,$4,$5,$6);`
)

// UpsertSnapshot persists a snapshot with three-way comparison per
// currency: insert when absent, update and record the delta when the
// value changed, no-op when identical. The distinction keeps rates that
// have not actually moved from triggering spurious external syncs.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot fixing.Snapshot) (UpsertStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return UpsertStats{}, err
	}

	var stats UpsertStats
	for _, rate := range snapshot.Rates {
		var (
			id        int64
			storedStr string
		)
		err := pool.QueryRow(ctx, selectRateForUpdateSQL, rate.CurrencyCode, rate.RateDate).Scan(&id, &storedStr)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, execErr := pool.Exec(ctx, insertRateSQL,
				rate.CurrencyCode,
				rate.LocalizedName,
				rate.CanonicalName,
				rate.Rate.String(),
				decimal.Zero.String(),
				rate.UnitMultiplier,
				rate.RateDate,
				snapshot.Source,
				snapshot.ScrapedAt,
			)
			if execErr != nil {
				return stats, fmt.Errorf("insert rate %s: %w", rate.CurrencyCode, execErr)
			}
			stats.New++
		case err != nil:
			return stats, fmt.Errorf("select rate %s: %w", rate.CurrencyCode, err)
		default:
			stored, convErr := parseDecimal(storedStr, "stored rate")
			if convErr != nil {
				return stats, convErr
			}
			if stored.Equal(rate.Rate) {
				stats.Unchanged++
				continue
			}
			delta := rate.Rate.Sub(stored)
			if _, execErr := pool.Exec(ctx, updateRateSQL, id, rate.Rate.String(), delta.String(), snapshot.ScrapedAt); execErr != nil {
				return stats, fmt.Errorf("update rate %s: %w", rate.CurrencyCode, execErr)
			}
			stats.Updated++
		}
	}

	return stats, nil
}

// RatesForDate returns the stored fixing rates for one effective date.
func (s *Store) RatesForDate(ctx context.Context, date time.Time) ([]fixing.Rate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRatesForDateSQL, date)
	if queryErr != nil {
		return nil, fmt.Errorf("list rates for date: %w", queryErr)
	}
	defer rows.Close()

	rates := make([]fixing.Rate, 0)
	for rows.Next() {
		var (
			rate    fixing.Rate
			rateStr string
		)
		if err := rows.Scan(
			&rate.CurrencyCode,
			&rate.LocalizedName,
			&rate.CanonicalName,
			&rateStr,
			&rate.UnitMultiplier,
			&rate.RateDate,
		); err != nil {
			return nil, err
		}
		rate.Rate, err = parseDecimal(rateStr, "rate")
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rates, nil
}

// RateHistory lists stored rates for one currency, newest first.
func (s *Store) RateHistory(ctx context.Context, currencyCode string, from, to time.Time, limit int) ([]StoredRate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRateHistorySQL, currencyCode, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list rate history: %w", queryErr)
	}
	defer rows.Close()

	history := make([]StoredRate, 0, limit)
	for rows.Next() {
		var (
			rec      StoredRate
			rateStr  string
			deltaStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.CurrencyCode,
			&rec.LocalizedName,
			&rec.CanonicalName,
			&rateStr,
			&deltaStr,
			&rec.UnitMultiplier,
			&rec.RateDate,
			&rec.Source,
			&rec.ScrapedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if rec.Rate, err = parseDecimal(rateStr, "rate"); err != nil {
			return nil, err
		}
		if rec.RateDelta, err = parseDecimal(deltaStr, "rate delta"); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return history, nil
}

// RecordScrape logs one fetch attempt for auditing.
func (s *Store) RecordScrape(ctx context.Context, log ScrapeLog) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var sourceTS interface{}
	if log.SourceTimestamp != nil {
		sourceTS = *log.SourceTimestamp
	}
	var errMsg interface{}
	if log.Error != "" {
		errMsg = log.Error
	}

	if _, execErr := pool.Exec(ctx, insertScrapeLogSQL,
		log.ScrapedAt,
		log.Success,
		log.RatesFound,
		log.RowsSkipped,
		sourceTS,
		errMsg,
	); execErr != nil {
		return fmt.Errorf("insert scrape log: %w", execErr)
	}
	return nil
}
