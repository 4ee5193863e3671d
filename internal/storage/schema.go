package storage

import (
	"context"
	"fmt"
)

// Schema bootstrap. The deployment story here is a single binary, so
// tables are created idempotently at startup instead of via a separate
// migration step.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS exchange_rates (
    id              BIGSERIAL PRIMARY KEY,
    currency_code   TEXT        NOT NULL,
    localized_name  TEXT        NOT NULL,
    canonical_name  TEXT        NOT NULL,
    rate            NUMERIC(18,6) NOT NULL,
    rate_delta      NUMERIC(18,6) NOT NULL DEFAULT 0,
    unit_multiplier INTEGER     NOT NULL DEFAULT 1,
    rate_date       DATE        NOT NULL,
    source          TEXT        NOT NULL DEFAULT '',
    scraped_at      TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (currency_code, rate_date)
);

CREATE INDEX IF NOT EXISTS idx_exchange_rates_date ON exchange_rates (rate_date);

CREATE TABLE IF NOT EXISTS tenants (
    id                 TEXT        PRIMARY KEY,
    name               TEXT        NOT NULL,
    realm_id           TEXT,
    client_id          TEXT        NOT NULL,
    client_secret_enc  TEXT        NOT NULL,
    access_token_enc   TEXT,
    refresh_token_enc  TEXT,
    token_expiry       TIMESTAMPTZ,
    sandbox            BOOLEAN     NOT NULL DEFAULT true,
    active             BOOLEAN     NOT NULL DEFAULT true,
    sync_enabled       BOOLEAN     NOT NULL DEFAULT true,
    home_currency_code TEXT        NOT NULL DEFAULT 'ALL',
    status             TEXT        NOT NULL DEFAULT 'pending',
    last_sync_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS delivery_records (
    tenant_id     TEXT        NOT NULL,
    currency_code TEXT        NOT NULL,
    rate_date     DATE        NOT NULL,
    rate          NUMERIC(18,6) NOT NULL,
    status        TEXT        NOT NULL,
    sync_token    TEXT        NOT NULL DEFAULT '',
    error         TEXT        NOT NULL DEFAULT '',
    synced_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, currency_code, rate_date)
);

CREATE TABLE IF NOT EXISTS scrape_logs (
    id               BIGSERIAL PRIMARY KEY,
    scraped_at       TIMESTAMPTZ NOT NULL,
    success          BOOLEAN     NOT NULL,
    rates_found      INTEGER     NOT NULL DEFAULT 0,
    rows_skipped     INTEGER     NOT NULL DEFAULT 0,
    source_timestamp TIMESTAMPTZ,
    error            TEXT
);
`

// EnsureSchema creates the required tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}
