package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fiksisync/internal/config"
	"fiksisync/internal/fixing"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

// RateStore defines persistence operations for fixing rates.
type RateStore interface {
	UpsertSnapshot(ctx context.Context, snapshot fixing.Snapshot) (UpsertStats, error)
	RatesForDate(ctx context.Context, date time.Time) ([]fixing.Rate, error)
	RateHistory(ctx context.Context, currencyCode string, from, to time.Time, limit int) ([]StoredRate, error)
	RecordScrape(ctx context.Context, log ScrapeLog) error
}

// TenantStore defines tenant read/write operations used by the sync
// pipeline. Approval and activation flags are mutated elsewhere.
type TenantStore interface {
	ListEligibleTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	UpdateTenantTokens(ctx context.Context, id string, accessTokenEnc, refreshTokenEnc string, expiry time.Time) error
	UpdateTenantLastSync(ctx context.Context, id string, at time.Time) error
	ListTenantStatuses(ctx context.Context) ([]TenantStatus, error)
}

// DeliveryStore tracks per-(tenant, currency, date) delivery outcomes.
type DeliveryStore interface {
	SucceededCurrencies(ctx context.Context, tenantID string, date time.Time) (map[string]bool, error)
	LastDelivery(ctx context.Context, tenantID, currencyCode string, date time.Time) (*DeliveryRecord, error)
	RecordDelivery(ctx context.Context, record DeliveryRecord) error
}

// AdvisoryLocker exposes the cross-process run guard.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Store aggregates access to rates, tenants, and delivery records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func parseDecimal(raw string, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", what, err)
	}
	return d, nil
}

var (
	_ RateStore      = (*Store)(nil)
	_ TenantStore    = (*Store)(nil)
	_ DeliveryStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
