package storage

import (
	"context"
	"fmt"
	"time"
)

const (
	succeededCurrenciesSQL = `SELECT currency_code
    FROM delivery_records
    WHERE tenant_id = $1
      AND rate_date = $2
      AND status = 'success';`

	lastDeliverySQL = `SELECT
        tenant_id,
        currency_code,
        rate_date,
        rate,
        status,
        sync_token,
        error,
        synced_at
    FROM delivery_records
    WHERE tenant_id = $1
      AND currency_code = $2
      AND rate_date = $3;`

	upsertDeliverySQL = `INSERT INTO delivery_records (
        tenant_id,
        currency_code,
        rate_date,
        rate,
        status,
        sync_token,
        error,
        synced_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (tenant_id, currency_code, rate_date) DO UPDATE
    SET rate       = EXCLUDED.rate,
        status     = EXCLUDED.status,
        sync_token = EXCLUDED.sync_token,
        error      = EXCLUDED.error,
        synced_at  = EXCLUDED.synced_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SucceededCurrencies returns the currency codes already delivered
// successfully for one tenant and date.
func (s *Store) SucceededCurrencies(ctx context.Context, tenantID string, date time.Time) (map[string]bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, succeededCurrenciesSQL, tenantID, date)
	if queryErr != nil {
		return nil, fmt.Errorf("list succeeded currencies: %w", queryErr)
	}
	defer rows.Close()

	codes := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes[code] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return codes, nil
}

// LastDelivery returns the delivery record for a triple, or nil when
// none exists yet.
func (s *Store) LastDelivery(ctx context.Context, tenantID, currencyCode string, date time.Time) (*DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, lastDeliverySQL, tenantID, currencyCode, date)
	if queryErr != nil {
		return nil, fmt.Errorf("get last delivery: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var (
		rec     DeliveryRecord
		rateStr string
	)
	if err := rows.Scan(
		&rec.TenantID,
		&rec.CurrencyCode,
		&rec.RateDate,
		&rateStr,
		&rec.Status,
		&rec.SyncToken,
		&rec.Error,
		&rec.SyncedAt,
	); err != nil {
		return nil, err
	}
	if rec.Rate, err = parseDecimal(rateStr, "delivered rate"); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordDelivery upserts the outcome for a triple, keeping only the
// most recent attempt per (tenant, currency, date).
func (s *Store) RecordDelivery(ctx context.Context, record DeliveryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertDeliverySQL,
		record.TenantID,
		record.CurrencyCode,
		record.RateDate,
		record.Rate.String(),
		record.Status,
		record.SyncToken,
		record.Error,
		record.SyncedAt,
	); execErr != nil {
		return fmt.Errorf("record delivery: %w", execErr)
	}
	return nil
}
