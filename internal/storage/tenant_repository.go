package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	tenantColumns = `id,
        name,
        realm_id,
        client_id,
        client_secret_enc,
        access_token_enc,
        refresh_token_enc,
        token_expiry,
        sandbox,
        active,
        sync_enabled,
        home_currency_code,
        status,
        last_sync_at,
        created_at,
        updated_at`

	listEligibleTenantsSQL = `SELECT ` + tenantColumns + `
    FROM tenants
    WHERE active = true
      AND sync_enabled = true
      AND realm_id IS NOT NULL
    ORDER BY name;`

	getTenantSQL = `SELECT ` + tenantColumns + `
    FROM tenants
    WHERE id = $1;`

	updateTenantTokensSQL = `UPDATE tenants
    SET access_token_enc = $2,
        refresh_token_enc = $3,
        token_expiry = $4,
        updated_at = now()
    WHERE id = $1;`

	updateTenantLastSyncSQL = `UPDATE tenants
    SET last_sync_at = $2, updated_at = now()
    WHERE id = $1;`

	listTenantStatusesSQL = `SELECT
        id,
        name,
        realm_id,
        last_sync_at,
        token_expiry,
        sync_enabled,
        active
    FROM tenants
    ORDER BY name;`
)

// ErrTenantNotFound indicates an unknown tenant id.
var ErrTenantNotFound = errors.New("storage: tenant not found")

// ListEligibleTenants returns tenants that are active, sync-enabled,
// and OAuth-connected.
func (s *Store) ListEligibleTenants(ctx context.Context) ([]Tenant, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEligibleTenantsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list eligible tenants: %w", queryErr)
	}
	defer rows.Close()

	tenants := make([]Tenant, 0)
	for rows.Next() {
		tenant, scanErr := scanTenant(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tenants = append(tenants, tenant)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tenants, nil
}

// GetTenant loads one tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getTenantSQL, id)
	if queryErr != nil {
		return nil, fmt.Errorf("get tenant: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, ErrTenantNotFound
	}
	tenant, scanErr := scanTenant(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &tenant, nil
}

// UpdateTenantTokens persists freshly encrypted tokens and their expiry.
func (s *Store) UpdateTenantTokens(ctx context.Context, id string, accessTokenEnc, refreshTokenEnc string, expiry time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateTenantTokensSQL, id, accessTokenEnc, refreshTokenEnc, expiry)
	if execErr != nil {
		return fmt.Errorf("update tenant tokens: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// UpdateTenantLastSync stamps a fully successful sync run.
func (s *Store) UpdateTenantLastSync(ctx context.Context, id string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateTenantLastSyncSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("update tenant last sync: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// ListTenantStatuses returns the read-only status view for all tenants.
func (s *Store) ListTenantStatuses(ctx context.Context) ([]TenantStatus, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTenantStatusesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list tenant statuses: %w", queryErr)
	}
	defer rows.Close()

	now := time.Now().UTC()
	statuses := make([]TenantStatus, 0)
	for rows.Next() {
		var (
			status      TenantStatus
			realmID     *string
			tokenExpiry *time.Time
		)
		if err := rows.Scan(
			&status.TenantID,
			&status.Name,
			&realmID,
			&status.LastSyncAt,
			&tokenExpiry,
			&status.SyncEnabled,
			&status.Active,
		); err != nil {
			return nil, err
		}
		status.Connected = realmID != nil && *realmID != ""
		status.TokenExpired = tokenExpiry == nil || tokenExpiry.Before(now)
		statuses = append(statuses, status)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return statuses, nil
}

func scanTenant(rows pgx.Rows) (Tenant, error) {
	var t Tenant
	if err := rows.Scan(
		&t.ID,
		&t.Name,
		&t.RealmID,
		&t.ClientID,
		&t.ClientSecretEnc,
		&t.AccessTokenEnc,
		&t.RefreshTokenEnc,
		&t.TokenExpiry,
		&t.Sandbox,
		&t.Active,
		&t.SyncEnabled,
		&t.HomeCurrencyCode,
		&t.Status,
		&t.LastSyncAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Tenant{}, err
	}
	return t, nil
}
