package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fiksisync/internal/fixing"
	"fiksisync/internal/ledger"
	"fiksisync/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

var snapshotDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func testSnapshot(codes ...string) fixing.Snapshot {
	rates := make([]fixing.Rate, 0, len(codes))
	for _, code := range codes {
		rates = append(rates, fixing.Rate{
			CurrencyCode:   code,
			CanonicalName:  code,
			Rate:           decimal.RequireFromString("100.5"),
			UnitMultiplier: 1,
			RateDate:       snapshotDate,
		})
	}
	return fixing.Snapshot{
		RateDate:  snapshotDate,
		Rates:     rates,
		Source:    "test",
		ScrapedAt: time.Now().UTC(),
	}
}

type fakeFetcher struct {
	snapshot fixing.Snapshot
	err      error
	block    chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) (fixing.Snapshot, error) {
	if f.block != nil {
		<-f.block
	}
	return f.snapshot, f.err
}

type fakeRateStore struct {
	mu      sync.Mutex
	stats   storage.UpsertStats
	scrapes []storage.ScrapeLog
}

func (f *fakeRateStore) UpsertSnapshot(ctx context.Context, snapshot fixing.Snapshot) (storage.UpsertStats, error) {
	return f.stats, nil
}

func (f *fakeRateStore) RatesForDate(ctx context.Context, date time.Time) ([]fixing.Rate, error) {
	return nil, nil
}

func (f *fakeRateStore) RateHistory(ctx context.Context, currencyCode string, from, to time.Time, limit int) ([]storage.StoredRate, error) {
	return nil, nil
}

func (f *fakeRateStore) RecordScrape(ctx context.Context, log storage.ScrapeLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapes = append(f.scrapes, log)
	return nil
}

type fakeTenantStore struct {
	mu       sync.Mutex
	tenants  []storage.Tenant
	lastSync map[string]time.Time
}

func (f *fakeTenantStore) ListEligibleTenants(ctx context.Context) ([]storage.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeTenantStore) GetTenant(ctx context.Context, id string) (*storage.Tenant, error) {
	return nil, storage.ErrTenantNotFound
}

func (f *fakeTenantStore) UpdateTenantTokens(ctx context.Context, id string, accessTokenEnc, refreshTokenEnc string, expiry time.Time) error {
	return nil
}

func (f *fakeTenantStore) UpdateTenantLastSync(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSync == nil {
		f.lastSync = make(map[string]time.Time)
	}
	f.lastSync[id] = at
	return nil
}

func (f *fakeTenantStore) ListTenantStatuses(ctx context.Context) ([]storage.TenantStatus, error) {
	return nil, nil
}

type fakeDeliveryStore struct {
	mu        sync.Mutex
	succeeded map[string]map[string]bool
	records   []storage.DeliveryRecord
}

func (f *fakeDeliveryStore) SucceededCurrencies(ctx context.Context, tenantID string, date time.Time) (map[string]bool, error) {
	if f.succeeded == nil {
		return map[string]bool{}, nil
	}
	out := f.succeeded[tenantID]
	if out == nil {
		out = map[string]bool{}
	}
	return out, nil
}

func (f *fakeDeliveryStore) LastDelivery(ctx context.Context, tenantID, currencyCode string, date time.Time) (*storage.DeliveryRecord, error) {
	return nil, nil
}

func (f *fakeDeliveryStore) RecordDelivery(ctx context.Context, record storage.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeDeliveryStore) recorded() []storage.DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.DeliveryRecord, len(f.records))
	copy(out, f.records)
	return out
}

type fakeTokens struct {
	mu           sync.Mutex
	ensureErrFor map[string]error
	refreshErr   error
	refreshCalls int
}

func (f *fakeTokens) EnsureValid(ctx context.Context, tenant *storage.Tenant) (string, error) {
	if err := f.ensureErrFor[tenant.ID]; err != nil {
		return "", err
	}
	return "access-" + tenant.ID, nil
}

func (f *fakeTokens) Refresh(ctx context.Context, tenant *storage.Tenant) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "refreshed-" + tenant.ID, nil
}

type deliveryCall struct {
	target ledger.Target
	rate   fixing.Rate
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []deliveryCall
	// errFor returns an error for a (realm, currency) pair; consumed
	// once so retries can succeed.
	errFor map[string]error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, target ledger.Target, rate fixing.Rate) (ledger.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deliveryCall{target: target, rate: rate})

	key := target.RealmID + "/" + rate.CurrencyCode
	if err, ok := f.errFor[key]; ok && err != nil {
		delete(f.errFor, key)
		return ledger.Outcome{}, err
	}
	return ledger.Outcome{Created: true, SyncToken: "1"}, nil
}

func (f *fakeDeliverer) recordedCalls() []deliveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deliveryCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func testTenant(id, home string) storage.Tenant {
	realm := "realm-" + id
	return storage.Tenant{
		ID:               id,
		Name:             "Tenant " + id,
		RealmID:          &realm,
		Active:           true,
		SyncEnabled:      true,
		HomeCurrencyCode: home,
	}
}

type fixture struct {
	fetcher    *fakeFetcher
	rates      *fakeRateStore
	tenants    *fakeTenantStore
	deliveries *fakeDeliveryStore
	tokens     *fakeTokens
	deliverer  *fakeDeliverer
}

func newFixture(snapshot fixing.Snapshot, tenants ...storage.Tenant) *fixture {
	return &fixture{
		fetcher:    &fakeFetcher{snapshot: snapshot},
		rates:      &fakeRateStore{stats: storage.UpsertStats{New: len(snapshot.Rates)}},
		tenants:    &fakeTenantStore{tenants: tenants},
		deliveries: &fakeDeliveryStore{},
		tokens:     &fakeTokens{},
		deliverer:  &fakeDeliverer{},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(Options{TenantWorkers: 2}, f.fetcher, f.rates, f.tenants, f.deliveries, f.tokens, f.deliverer, nil, noopLogger())
}

func TestRunNowDeliversToAllTenants(t *testing.T) {
	fx := newFixture(testSnapshot("EUR", "USD"), testTenant("a", "ALL"), testTenant("b", "ALL"))

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.SnapshotDate)
	require.True(t, report.SnapshotDate.Equal(snapshotDate))
	require.Equal(t, 2, report.New)
	require.Len(t, report.Tenants, 2)
	for _, tr := range report.Tenants {
		require.True(t, tr.Success, "tenant %s should succeed", tr.TenantID)
		require.Equal(t, 2, tr.RatesSynced)
		require.Empty(t, tr.Error)
	}

	require.Len(t, fx.deliverer.recordedCalls(), 4)
	require.Len(t, fx.deliveries.recorded(), 4)
	require.Contains(t, fx.tenants.lastSync, "a")
	require.Contains(t, fx.tenants.lastSync, "b")
	require.NotEmpty(t, report.RunID)
}

func TestRunNowFiltersHomeCurrency(t *testing.T) {
	fx := newFixture(testSnapshot("EUR", "USD"), testTenant("a", "USD"))

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Tenants[0].RatesSynced)
	calls := fx.deliverer.recordedCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "EUR", calls[0].rate.CurrencyCode)
}

func TestRunNowSkipsAlreadyDelivered(t *testing.T) {
	fx := newFixture(testSnapshot("EUR", "USD"), testTenant("a", "ALL"))
	fx.deliveries.succeeded = map[string]map[string]bool{
		"a": {"EUR": true},
	}

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.True(t, report.Tenants[0].Success)
	require.Equal(t, 1, report.Tenants[0].RatesSynced)
	calls := fx.deliverer.recordedCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "USD", calls[0].rate.CurrencyCode)
}

func TestRunNowIsolatesTenantFailures(t *testing.T) {
	fx := newFixture(testSnapshot("EUR"), testTenant("a", "ALL"), testTenant("b", "ALL"))
	fx.deliverer.errFor = map[string]error{
		"realm-a/EUR": &ledger.APIError{StatusCode: 500, Body: "boom"},
	}

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err, "per-tenant failures must not fail the run")

	byID := map[string]TenantReport{}
	for _, tr := range report.Tenants {
		byID[tr.TenantID] = tr
	}
	require.False(t, byID["a"].Success)
	require.Contains(t, byID["a"].Error, "EUR")
	require.True(t, byID["b"].Success)

	require.NotContains(t, fx.tenants.lastSync, "a")
	require.Contains(t, fx.tenants.lastSync, "b")

	var failed int
	for _, rec := range fx.deliveries.recorded() {
		if rec.Status == storage.DeliveryStatusFailed {
			failed++
			require.Equal(t, "a", rec.TenantID)
			require.NotEmpty(t, rec.Error)
		}
	}
	require.Equal(t, 1, failed)
}

func TestRunNowSkipsTenantOnCredentialFailure(t *testing.T) {
	fx := newFixture(testSnapshot("EUR"), testTenant("a", "ALL"), testTenant("b", "ALL"))
	fx.tokens.ensureErrFor = map[string]error{"a": errors.New("vault: decryption failed")}

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	byID := map[string]TenantReport{}
	for _, tr := range report.Tenants {
		byID[tr.TenantID] = tr
	}
	require.False(t, byID["a"].Success)
	require.Contains(t, byID["a"].Error, "credential error")
	require.Zero(t, byID["a"].RatesSynced)
	require.True(t, byID["b"].Success)

	// Tenant a never reached delivery.
	for _, call := range fx.deliverer.recordedCalls() {
		require.Equal(t, "realm-b", call.target.RealmID)
	}
}

func TestRunNowRefreshesOnceOnUnauthorized(t *testing.T) {
	fx := newFixture(testSnapshot("EUR"), testTenant("a", "ALL"))
	fx.deliverer.errFor = map[string]error{
		"realm-a/EUR": ledger.ErrUnauthorized,
	}

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.True(t, report.Tenants[0].Success)
	require.Equal(t, 1, fx.tokens.refreshCalls)

	calls := fx.deliverer.recordedCalls()
	require.Len(t, calls, 2)
	require.Equal(t, "access-a", calls[0].target.AccessToken)
	require.Equal(t, "refreshed-a", calls[1].target.AccessToken)
}

func TestRunNowFailsDeliveryWhenRefreshFails(t *testing.T) {
	fx := newFixture(testSnapshot("EUR"), testTenant("a", "ALL"))
	fx.deliverer.errFor = map[string]error{
		"realm-a/EUR": ledger.ErrUnauthorized,
	}
	fx.tokens.refreshErr = errors.New("invalid_grant")

	report, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.False(t, report.Tenants[0].Success)
	require.Equal(t, 1, fx.tokens.refreshCalls)
	require.Len(t, fx.deliverer.recordedCalls(), 1)
}

func TestRunNowEmptySnapshot(t *testing.T) {
	fx := newFixture(fixing.Snapshot{})
	fx.fetcher.err = fixing.ErrEmptySnapshot

	report, err := fx.orchestrator().RunNow(context.Background())
	require.ErrorIs(t, err, fixing.ErrEmptySnapshot)

	require.Nil(t, report.SnapshotDate)
	require.Zero(t, report.New)
	require.Zero(t, report.Updated)
	require.Zero(t, report.Unchanged)
	require.Empty(t, report.Tenants)

	require.Len(t, fx.rates.scrapes, 1)
	require.False(t, fx.rates.scrapes[0].Success)
	require.Empty(t, fx.deliverer.recordedCalls())
}

func TestRunNowRejectsOverlappingRuns(t *testing.T) {
	fx := newFixture(testSnapshot("EUR"), testTenant("a", "ALL"))
	fx.fetcher.block = make(chan struct{})

	o := fx.orchestrator()

	done := make(chan error, 1)
	go func() {
		_, err := o.RunNow(context.Background())
		done <- err
	}()

	// Wait for the first run to hold the guard.
	require.Eventually(t, o.Running, time.Second, time.Millisecond)

	_, err := o.RunNow(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(fx.fetcher.block)
	require.NoError(t, <-done)
	require.False(t, o.Running())
}

func TestRunNowLogsPartialScrapeContextOnFailure(t *testing.T) {
	sourceTS := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	fx := newFixture(fixing.Snapshot{SkippedRows: 3, SourceTimestamp: &sourceTS})
	fx.fetcher.err = fixing.ErrEmptySnapshot

	_, err := fx.orchestrator().RunNow(context.Background())
	require.ErrorIs(t, err, fixing.ErrEmptySnapshot)

	require.Len(t, fx.rates.scrapes, 1)
	log := fx.rates.scrapes[0]
	require.False(t, log.Success)
	require.Equal(t, 3, log.RowsSkipped)
	require.NotNil(t, log.SourceTimestamp)
	require.True(t, log.SourceTimestamp.Equal(sourceTS))
}

func TestRunNowRecordsScrapeSuccess(t *testing.T) {
	fx := newFixture(testSnapshot("EUR", "USD"))

	_, err := fx.orchestrator().RunNow(context.Background())
	require.NoError(t, err)

	require.Len(t, fx.rates.scrapes, 1)
	require.True(t, fx.rates.scrapes[0].Success)
	require.Equal(t, 2, fx.rates.scrapes[0].RatesFound)
}
