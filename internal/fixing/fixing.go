// Package fixing acquires the daily official exchange-rate fixing from
// the central bank's public page and normalises it into an immutable
// snapshot of currency rates.
package fixing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptySnapshot indicates a scrape that produced zero resolved rates.
// Downstream sync must never run against an empty snapshot.
var ErrEmptySnapshot = errors.New("fixing: no resolved rates in snapshot")

// Rate is one resolved currency rate within a snapshot. The rate is
// expressed per UnitMultiplier units of the foreign currency in home
// currency terms.
type Rate struct {
	CurrencyCode   string
	LocalizedName  string
	CanonicalName  string
	Rate           decimal.Decimal
	UnitMultiplier int
	RateDate       time.Time
}

// Snapshot is the validated result of a single scrape. It is immutable
// once constructed; a new scrape produces a new snapshot.
type Snapshot struct {
	RateDate        time.Time
	Rates           []Rate
	Source          string
	SourceTimestamp *time.Time
	ScrapedAt       time.Time
	SkippedRows     int
}

// SnapshotFetcher produces the current fixing snapshot.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}
