package fixing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, srv *httptest.Server, retries int) *Fetcher {
	t.Helper()
	return NewFetcher(FetcherOptions{
		BaseURL:      srv.URL,
		PagePath:     "/",
		Timeout:      2 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
		UserAgent:    "test",
	}, noopLogger())
}

func TestFetchAssemblesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(threeColumnPage))
	}))
	defer srv.Close()

	snapshot, err := newTestFetcher(t, srv, 1).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if len(snapshot.Rates) != 3 {
		t.Fatalf("expected 3 rates, got %d", len(snapshot.Rates))
	}
	wantDate := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !snapshot.RateDate.Equal(wantDate) {
		t.Fatalf("rate date = %s, want %s", snapshot.RateDate, wantDate)
	}
	if snapshot.SourceTimestamp == nil {
		t.Fatal("source timestamp should be carried on the snapshot")
	}

	byCode := map[string]Rate{}
	for _, rate := range snapshot.Rates {
		byCode[rate.CurrencyCode] = rate
	}
	if byCode["JPY"].UnitMultiplier != 100 {
		t.Fatalf("JPY should carry a per-100 multiplier, got %d", byCode["JPY"].UnitMultiplier)
	}
	if byCode["EUR"].CanonicalName != "Euro" {
		t.Fatalf("unexpected canonical name %q", byCode["EUR"].CanonicalName)
	}
	for _, rate := range snapshot.Rates {
		if !rate.RateDate.Equal(wantDate) {
			t.Fatalf("every rate must carry the snapshot date, got %s", rate.RateDate)
		}
	}
}

func TestFetchDefaultsRateDateToToday(t *testing.T) {
	page := `<html><body><table>
	<tr><th>Monedha</th><th>Kursi</th></tr>
	<tr><td>Euro</td><td>103,48</td></tr>
	</table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 1)
	fixed := time.Date(2024, 6, 2, 17, 45, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	snapshot, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	want := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	if !snapshot.RateDate.Equal(want) {
		t.Fatalf("rate date should default to today, got %s", snapshot.RateDate)
	}
	if snapshot.SourceTimestamp != nil {
		t.Fatal("no timestamp on page should yield nil SourceTimestamp")
	}
}

func TestFetchDropsUnresolvableAndDuplicateRows(t *testing.T) {
	page := `<html><body><table>
	<tr><th>Monedha</th><th>Kursi</th></tr>
	<tr><td>Euro</td><td>103,48</td></tr>
	<tr><td>Euro</td><td>104,00</td></tr>
	<tr><td>Monedha e Panjohur</td><td>50,00</td></tr>
	</table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	snapshot, err := newTestFetcher(t, srv, 1).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(snapshot.Rates) != 1 {
		t.Fatalf("expected 1 rate after dedup and drop, got %d", len(snapshot.Rates))
	}
	if snapshot.Rates[0].Rate.String() != "103.48" {
		t.Fatalf("first occurrence should win, got %s", snapshot.Rates[0].Rate)
	}
}

func TestFetchEmptySnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>mirëmbajtje</p></body></html>"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv, 1).Fetch(context.Background())
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("expected ErrEmptySnapshot, got %v", err)
	}
}

func TestFetchEmptySnapshotKeepsDocumentContext(t *testing.T) {
	// Every row is rejected, but the skip count and the page timestamp
	// must survive on the returned snapshot for scrape logging.
	page := `<html><body>
	<p>Përditesimi i fundit 15.03.2024 14:30:00</p>
	<table><tr><th>Monedha</th><th>Kursi</th></tr>
	<tr><td>Leva Bullgare</td><td>0,00</td></tr>
	</table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	snapshot, err := newTestFetcher(t, srv, 1).Fetch(context.Background())
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("expected ErrEmptySnapshot, got %v", err)
	}
	if snapshot.SkippedRows != 1 {
		t.Fatalf("skip count should be carried on the snapshot, got %d", snapshot.SkippedRows)
	}
	if snapshot.SourceTimestamp == nil {
		t.Fatal("page timestamp should be carried on the snapshot")
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(threeColumnPage))
	}))
	defer srv.Close()

	if _, err := newTestFetcher(t, srv, 3).Fetch(context.Background()); err != nil {
		t.Fatalf("fetch should succeed after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv, 2).Fetch(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}
