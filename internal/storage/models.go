package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StoredRate is one persisted currency rate for a given date.
type StoredRate struct {
	ID             int64
	CurrencyCode   string
	LocalizedName  string
	CanonicalName  string
	Rate           decimal.Decimal
	RateDelta      decimal.Decimal
	UnitMultiplier int
	RateDate       time.Time
	Source         string
	ScrapedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertStats counts the outcome of persisting one snapshot.
type UpsertStats struct {
	New       int
	Updated   int
	Unchanged int
}

// Tenant is one external ledger account receiving synced rates.
// Secrets are stored encrypted and only ever decrypted transiently by
// the token manager.
type Tenant struct {
	ID                string
	Name              string
	RealmID           *string
	ClientID          string
	ClientSecretEnc   string
	AccessTokenEnc    *string
	RefreshTokenEnc   *string
	TokenExpiry       *time.Time
	Sandbox           bool
	Active            bool
	SyncEnabled       bool
	HomeCurrencyCode  string
	Status            string
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tenant lifecycle states. Deactivation is a soft flag, never a delete.
const (
	TenantStatusPending   = "pending"
	TenantStatusApproved  = "approved"
	TenantStatusConnected = "connected"
)

// Connected reports whether the tenant completed the OAuth connect step
// and is therefore addressable in the external ledger.
func (t Tenant) Connected() bool {
	return t.RealmID != nil && *t.RealmID != ""
}

// Delivery statuses.
const (
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusPending = "pending"
)

// DeliveryRecord tracks one (tenant, currency, date) delivery to the
// external ledger. At most one successful record exists per triple.
type DeliveryRecord struct {
	TenantID     string
	CurrencyCode string
	RateDate     time.Time
	Rate         decimal.Decimal
	Status       string
	SyncToken    string
	Error        string
	SyncedAt     time.Time
}

// ScrapeLog records one fetch attempt against the upstream page.
type ScrapeLog struct {
	ID              int64
	ScrapedAt       time.Time
	Success         bool
	RatesFound      int
	RowsSkipped     int
	SourceTimestamp *time.Time
	Error           string
}

// TenantStatus is the read-only per-tenant view exposed upstream.
type TenantStatus struct {
	TenantID     string
	Name         string
	Connected    bool
	LastSyncAt   *time.Time
	TokenExpired bool
	SyncEnabled  bool
	Active       bool
}
