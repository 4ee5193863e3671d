// Package ledger posts currency rates into a tenant's external ledger
// over its REST API, honouring the ledger's optimistic-concurrency
// protocol: every update must echo the last version token the ledger
// handed out, and creates use the token "0".
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fiksisync/internal/fixing"
)

const (
	exchangeRatePath = "/v3/company/%s/exchangerate"
	createSyncToken  = "0"
	dateLayout       = "2006-01-02"
)

var (
	// ErrUnauthorized signals an HTTP-level authorization failure. The
	// caller owns the single refresh-and-retry.
	ErrUnauthorized = errors.New("ledger: unauthorized")

	// ErrSelfReferentialRate guards the invariant that a tenant's home
	// currency is never submitted against its own ledger.
	ErrSelfReferentialRate = errors.New("ledger: rate targets the tenant's home currency")
)

// APIError carries the external error body for reporting.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api error (%d): %s", e.StatusCode, e.Body)
}

// Outcome describes one completed delivery.
type Outcome struct {
	Created   bool
	SyncToken string
}

// Target identifies where a delivery lands.
type Target struct {
	RealmID          string
	HomeCurrencyCode string
	Sandbox          bool
	AccessToken      string
}

// Options parameterise the ledger client.
type Options struct {
	BaseURL        string
	SandboxBaseURL string
	Timeout        time.Duration
}

// RateDeliverer is the orchestrator-facing contract.
type RateDeliverer interface {
	Deliver(ctx context.Context, target Target, rate fixing.Rate) (Outcome, error)
}

// Client talks to the external ledger API.
type Client struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewClient builds a ledger API client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.SandboxBaseURL = strings.TrimRight(opts.SandboxBaseURL, "/")

	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "ledger_client").Logger(),
	}
}

type exchangeRateBody struct {
	SourceCurrencyCode string `json:"SourceCurrencyCode"`
	TargetCurrencyCode string `json:"TargetCurrencyCode,omitempty"`
	Rate               string `json:"Rate"`
	AsOfDate           string `json:"AsOfDate"`
	SyncToken          string `json:"SyncToken"`
}

type exchangeRateEnvelope struct {
	ExchangeRate exchangeRateBody `json:"ExchangeRate"`
}

// Deliver creates or updates one currency rate in the target ledger.
// An existing rate at (source currency, date) is updated with the
// version token the ledger returned; otherwise a create is submitted
// with token "0". Idempotent with respect to re-runs: the same triple
// yields one create followed by updates, never duplicate entries.
func (c *Client) Deliver(ctx context.Context, target Target, rate fixing.Rate) (Outcome, error) {
	if rate.CurrencyCode == target.HomeCurrencyCode {
		return Outcome{}, ErrSelfReferentialRate
	}

	existing, err := c.fetchExisting(ctx, target, rate.CurrencyCode, rate.RateDate)
	if err != nil {
		return Outcome{}, err
	}

	syncToken := createSyncToken
	created := true
	if existing != nil {
		syncToken = existing.SyncToken
		created = false
	}

	submitted, err := c.submit(ctx, target, rate.CurrencyCode, rate.Rate, rate.RateDate, syncToken)
	if err != nil {
		return Outcome{}, err
	}

	c.logger.Debug().
		Str("realm_id", target.RealmID).
		Str("currency", rate.CurrencyCode).
		Bool("created", created).
		Msg("rate delivered")

	return Outcome{Created: created, SyncToken: submitted.SyncToken}, nil
}

// fetchExisting queries the ledger for a rate at (currency, date). A
// 404 means not found and is not an error.
func (c *Client) fetchExisting(ctx context.Context, target Target, currencyCode string, asOf time.Time) (*exchangeRateBody, error) {
	query := url.Values{}
	query.Set("sourcecurrencycode", currencyCode)
	query.Set("asofdate", asOf.Format(dateLayout))

	endpoint := c.endpoint(target) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, target.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query existing rate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope exchangeRateEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode existing rate: %w", err)
		}
		return &envelope.ExchangeRate, nil
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

func (c *Client) submit(ctx context.Context, target Target, currencyCode string, rate decimal.Decimal, asOf time.Time, syncToken string) (*exchangeRateBody, error) {
	payload := exchangeRateBody{
		SourceCurrencyCode: currencyCode,
		TargetCurrencyCode: target.HomeCurrencyCode,
		Rate:               rate.String(),
		AsOfDate:           asOf.Format(dateLayout),
		SyncToken:          syncToken,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(target), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, target.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit rate: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var envelope exchangeRateEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &envelope.ExchangeRate, nil
}

func (c *Client) endpoint(target Target) string {
	base := c.opts.BaseURL
	if target.Sandbox && c.opts.SandboxBaseURL != "" {
		base = c.opts.SandboxBaseURL
	}
	return base + fmt.Sprintf(exchangeRatePath, url.PathEscape(target.RealmID))
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
}

var _ RateDeliverer = (*Client)(nil)
