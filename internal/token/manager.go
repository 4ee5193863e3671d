// Package token owns the per-tenant OAuth token lifecycle: deciding
// when a stored access token is still usable and performing the refresh
// grant against the identity provider. It mutates only the token fields
// of a tenant; delivery is a separate phase.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"fiksisync/internal/storage"
	"fiksisync/internal/vault"
)

// ErrNoRefreshToken indicates a tenant that never completed the OAuth
// connect step or whose grant was wiped.
var ErrNoRefreshToken = errors.New("token: tenant has no refresh token")

// Options parameterise the token manager.
type Options struct {
	TokenURL        string
	SandboxTokenURL string
	RefreshWindow   time.Duration
	Timeout         time.Duration
}

// Manager decides whether a tenant's access token needs refresh before
// use and performs the refresh. A failed refresh leaves the stored
// tokens untouched so the grant can recover on a later run.
type Manager struct {
	opts    Options
	vault   *vault.Vault
	tenants storage.TenantStore
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager builds a token lifecycle manager.
func NewManager(opts Options, credVault *vault.Vault, tenants storage.TenantStore, logger zerolog.Logger) *Manager {
	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = 5 * time.Minute
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		opts:    opts,
		vault:   credVault,
		tenants: tenants,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "token_manager").Logger(),
		now:     time.Now,
	}
}

// EnsureValid returns a usable plaintext access token for the tenant,
// refreshing first when no expiry is recorded or the expiry falls
// within the safety window. The returned token must not be persisted or
// logged by callers.
func (m *Manager) EnsureValid(ctx context.Context, tenant *storage.Tenant) (string, error) {
	if m.needsRefresh(tenant) {
		return m.Refresh(ctx, tenant)
	}

	accessToken, err := m.vault.Decrypt(*tenant.AccessTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt access token for tenant %s: %w", tenant.ID, err)
	}
	return accessToken, nil
}

func (m *Manager) needsRefresh(tenant *storage.Tenant) bool {
	if tenant.AccessTokenEnc == nil || *tenant.AccessTokenEnc == "" {
		return true
	}
	// No recorded expiry is treated as already expired.
	if tenant.TokenExpiry == nil {
		return true
	}
	return m.now().Add(m.opts.RefreshWindow).After(*tenant.TokenExpiry)
}

// Refresh exchanges the tenant's refresh token for a new token pair,
// re-encrypts both, and persists them along with the new expiry. On any
// failure the tenant's existing credentials remain as they were.
func (m *Manager) Refresh(ctx context.Context, tenant *storage.Tenant) (string, error) {
	if tenant.RefreshTokenEnc == nil || *tenant.RefreshTokenEnc == "" {
		return "", ErrNoRefreshToken
	}

	refreshToken, err := m.vault.Decrypt(*tenant.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token for tenant %s: %w", tenant.ID, err)
	}
	clientSecret, err := m.vault.Decrypt(tenant.ClientSecretEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt client secret for tenant %s: %w", tenant.ID, err)
	}

	conf := &oauth2.Config{
		ClientID:     tenant.ClientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL(tenant),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	newToken, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		m.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("token refresh failed, keeping existing credentials")
		return "", fmt.Errorf("refresh token for tenant %s: %w", tenant.ID, err)
	}

	accessEnc, err := m.vault.Encrypt(newToken.AccessToken)
	if err != nil {
		return "", err
	}

	// Providers may rotate the refresh token; keep the old one when the
	// response omits it.
	rotatedRefresh := newToken.RefreshToken
	if rotatedRefresh == "" {
		rotatedRefresh = refreshToken
	}
	refreshEnc, err := m.vault.Encrypt(rotatedRefresh)
	if err != nil {
		return "", err
	}

	expiry := newToken.Expiry.UTC()
	if err := m.tenants.UpdateTenantTokens(ctx, tenant.ID, accessEnc, refreshEnc, expiry); err != nil {
		return "", fmt.Errorf("persist refreshed tokens for tenant %s: %w", tenant.ID, err)
	}

	tenant.AccessTokenEnc = &accessEnc
	tenant.RefreshTokenEnc = &refreshEnc
	tenant.TokenExpiry = &expiry

	m.logger.Info().Str("tenant_id", tenant.ID).Time("expiry", expiry).Msg("access token refreshed")
	return newToken.AccessToken, nil
}

func (m *Manager) tokenURL(tenant *storage.Tenant) string {
	if tenant.Sandbox && m.opts.SandboxTokenURL != "" {
		return m.opts.SandboxTokenURL
	}
	return m.opts.TokenURL
}
