// Package syncer drives one sync run end to end: acquire the fixing
// snapshot, persist it, and fan the rates out to every eligible tenant
// with per-tenant failure isolation.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fiksisync/internal/fixing"
	"fiksisync/internal/ledger"
	"fiksisync/internal/storage"
)

// ErrRunInProgress rejects overlapping runs. Re-entrant runs against
// the same snapshot date would double-count delivery attempts.
var ErrRunInProgress = errors.New("syncer: a sync run is already in progress")

// TokenManager is the credential phase of a tenant sync, kept separate
// from delivery so the lifecycle logic stays independently testable.
type TokenManager interface {
	EnsureValid(ctx context.Context, tenant *storage.Tenant) (string, error)
	Refresh(ctx context.Context, tenant *storage.Tenant) (string, error)
}

// Options tune the orchestrator.
type Options struct {
	TenantWorkers   int
	AdvisoryLockKey int64
}

// Orchestrator owns the run loop. Tenants are processed concurrently up
// to a bounded worker count; deliveries within one tenant stay
// sequential to avoid version-token races on the same ledger record.
type Orchestrator struct {
	opts       Options
	fetcher    fixing.SnapshotFetcher
	rates      storage.RateStore
	tenants    storage.TenantStore
	deliveries storage.DeliveryStore
	tokens     TokenManager
	deliverer  ledger.RateDeliverer
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger
	now        func() time.Time

	running atomic.Bool
}

// New constructs the sync orchestrator. The locker may be nil when no
// cross-process guard is available.
func New(
	opts Options,
	fetcher fixing.SnapshotFetcher,
	rates storage.RateStore,
	tenants storage.TenantStore,
	deliveries storage.DeliveryStore,
	tokens TokenManager,
	deliverer ledger.RateDeliverer,
	locker storage.AdvisoryLocker,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.TenantWorkers <= 0 {
		opts.TenantWorkers = 4
	}

	return &Orchestrator{
		opts:       opts,
		fetcher:    fetcher,
		rates:      rates,
		tenants:    tenants,
		deliveries: deliveries,
		tokens:     tokens,
		deliverer:  deliverer,
		locker:     locker,
		logger:     logger.With().Str("component", "sync_orchestrator").Logger(),
		now:        time.Now,
	}
}

// Running reports whether a run is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunNow executes one full sync run. Scheduled and manual triggers
// serialize against the same in-progress guard. A snapshot failure is
// run-fatal and reports zero tenants processed; per-tenant and
// per-currency failures are isolated and reported.
func (o *Orchestrator) RunNow(ctx context.Context) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	if o.locker != nil && o.opts.AdvisoryLockKey != 0 {
		unlock, acquired, err := o.locker.TryAdvisoryLock(ctx, o.opts.AdvisoryLockKey)
		if err != nil {
			return Report{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			return Report{}, ErrRunInProgress
		}
		defer unlock()
	}

	report := Report{
		RunID:     uuid.NewString(),
		Tenants:   []TenantReport{},
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With().Str("run_id", report.RunID).Logger()

	// On failure the fetcher may still hand back a partially assembled
	// snapshot; its skip count and timestamp belong in the scrape log.
	snapshot, err := o.fetcher.Fetch(ctx)
	if err != nil {
		o.logScrape(ctx, snapshot, len(snapshot.Rates), err)
		report.FinishedAt = o.now().UTC()
		logger.Error().Err(err).Msg("snapshot acquisition failed, no tenants processed")
		return report, err
	}
	o.logScrape(ctx, snapshot, len(snapshot.Rates), nil)

	stats, err := o.rates.UpsertSnapshot(ctx, snapshot)
	if err != nil {
		report.FinishedAt = o.now().UTC()
		return report, fmt.Errorf("persist snapshot: %w", err)
	}
	snapshotDate := snapshot.RateDate
	report.SnapshotDate = &snapshotDate
	report.New = stats.New
	report.Updated = stats.Updated
	report.Unchanged = stats.Unchanged

	eligible, err := o.tenants.ListEligibleTenants(ctx)
	if err != nil {
		report.FinishedAt = o.now().UTC()
		return report, fmt.Errorf("list eligible tenants: %w", err)
	}

	logger.Info().
		Time("snapshot_date", snapshot.RateDate).
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("tenants", len(eligible)).
		Msg("snapshot persisted, starting tenant fan-out")

	reports := make([]TenantReport, len(eligible))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.TenantWorkers)

	for i := range eligible {
		i := i
		group.Go(func() error {
			tenant := eligible[i]
			reports[i] = o.syncTenant(groupCtx, logger, tenant, snapshot)
			return nil
		})
	}
	_ = group.Wait()

	report.Tenants = reports
	report.FinishedAt = o.now().UTC()

	logger.Info().Int("tenants", len(reports)).Msg("sync run finished")
	return report, nil
}

// syncTenant runs the two-phase per-tenant flow: credential phase, then
// delivery phase. Any failure is folded into the tenant report; nothing
// here may abort the sibling tenants.
func (o *Orchestrator) syncTenant(ctx context.Context, logger zerolog.Logger, tenant storage.Tenant, snapshot fixing.Snapshot) TenantReport {
	report := TenantReport{TenantID: tenant.ID, Name: tenant.Name}
	tlog := logger.With().Str("tenant_id", tenant.ID).Logger()

	accessToken, err := o.tokens.EnsureValid(ctx, &tenant)
	if err != nil {
		tlog.Warn().Err(err).Msg("skipping tenant, credentials unavailable")
		report.Error = fmt.Sprintf("credential error: %v", err)
		return report
	}

	pending, err := o.pendingRates(ctx, tenant, snapshot)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	target := ledger.Target{
		RealmID:          realmID(tenant),
		HomeCurrencyCode: tenant.HomeCurrencyCode,
		Sandbox:          tenant.Sandbox,
		AccessToken:      accessToken,
	}

	var failures []string
	for _, rate := range pending {
		if err := o.deliverRate(ctx, &tenant, &target, rate, snapshot.RateDate); err != nil {
			tlog.Error().Err(err).Str("currency", rate.CurrencyCode).Msg("rate delivery failed")
			failures = append(failures, fmt.Sprintf("%s: %v", rate.CurrencyCode, err))
			continue
		}
		report.RatesSynced++
	}

	if len(failures) > 0 {
		report.Error = fmt.Sprintf("delivery errors: %s", joinLimited(failures, 5))
		return report
	}

	report.Success = true
	if err := o.tenants.UpdateTenantLastSync(ctx, tenant.ID, o.now().UTC()); err != nil {
		tlog.Error().Err(err).Msg("failed to stamp last sync")
	}
	return report
}

// pendingRates filters the snapshot down to what this tenant still
// needs: the home currency is never a delivery target for itself, and
// triples already delivered successfully for this date are skipped.
func (o *Orchestrator) pendingRates(ctx context.Context, tenant storage.Tenant, snapshot fixing.Snapshot) ([]fixing.Rate, error) {
	delivered, err := o.deliveries.SucceededCurrencies(ctx, tenant.ID, snapshot.RateDate)
	if err != nil {
		return nil, fmt.Errorf("load delivered currencies: %w", err)
	}

	pending := make([]fixing.Rate, 0, len(snapshot.Rates))
	for _, rate := range snapshot.Rates {
		if rate.CurrencyCode == tenant.HomeCurrencyCode {
			continue
		}
		if delivered[rate.CurrencyCode] {
			continue
		}
		pending = append(pending, rate)
	}
	return pending, nil
}

// deliverRate performs one delivery with at most one refresh-and-retry
// on an authorization failure, then records the outcome.
func (o *Orchestrator) deliverRate(ctx context.Context, tenant *storage.Tenant, target *ledger.Target, rate fixing.Rate, rateDate time.Time) error {
	outcome, err := o.deliverer.Deliver(ctx, *target, rate)
	if errors.Is(err, ledger.ErrUnauthorized) {
		freshToken, refreshErr := o.tokens.Refresh(ctx, tenant)
		if refreshErr != nil {
			err = fmt.Errorf("authorization failed and refresh did not recover: %v", refreshErr)
		} else {
			target.AccessToken = freshToken
			outcome, err = o.deliverer.Deliver(ctx, *target, rate)
		}
	}

	record := storage.DeliveryRecord{
		TenantID:     tenant.ID,
		CurrencyCode: rate.CurrencyCode,
		RateDate:     rateDate,
		Rate:         rate.Rate,
		SyncedAt:     o.now().UTC(),
	}
	if err != nil {
		record.Status = storage.DeliveryStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = storage.DeliveryStatusSuccess
		record.SyncToken = outcome.SyncToken
	}

	if recErr := o.deliveries.RecordDelivery(ctx, record); recErr != nil {
		o.logger.Error().Err(recErr).Str("tenant_id", tenant.ID).Str("currency", rate.CurrencyCode).Msg("failed to record delivery outcome")
	}

	return err
}

func (o *Orchestrator) logScrape(ctx context.Context, snapshot fixing.Snapshot, found int, scrapeErr error) {
	log := storage.ScrapeLog{
		ScrapedAt:       o.now().UTC(),
		Success:         scrapeErr == nil,
		RatesFound:      found,
		RowsSkipped:     snapshot.SkippedRows,
		SourceTimestamp: snapshot.SourceTimestamp,
	}
	if scrapeErr != nil {
		log.Error = scrapeErr.Error()
	}
	if err := o.rates.RecordScrape(ctx, log); err != nil {
		o.logger.Error().Err(err).Msg("failed to record scrape log")
	}
}

func realmID(tenant storage.Tenant) string {
	if tenant.RealmID == nil {
		return ""
	}
	return *tenant.RealmID
}

func joinLimited(items []string, max int) string {
	if len(items) <= max {
		return strings.Join(items, "; ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(items[:max], "; "), len(items)-max)
}
