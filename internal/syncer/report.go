package syncer

import "time"

// TenantReport is the per-tenant slice of a run report.
type TenantReport struct {
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Success     bool   `json:"success"`
	RatesSynced int    `json:"rates_synced"`
	Error       string `json:"error,omitempty"`
}

// Report aggregates the outcome of one orchestrator run. Errors are
// carried as human-readable strings; secret material never appears
// here.
type Report struct {
	RunID        string         `json:"run_id"`
	SnapshotDate *time.Time     `json:"snapshot_date"`
	New          int            `json:"new"`
	Updated      int            `json:"updated"`
	Unchanged    int            `json:"unchanged"`
	Tenants      []TenantReport `json:"per_tenant"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}
