// Package httpapi exposes a small admin surface over the sync pipeline:
// a manual run trigger, per-tenant status, and a health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fiksisync/internal/storage"
	"fiksisync/internal/syncer"
)

// SyncRunner triggers one sync run on demand.
type SyncRunner interface {
	RunNow(ctx context.Context) (syncer.Report, error)
	Running() bool
}

// Options configure the admin listener.
type Options struct {
	Addr string
}

// Server is the admin HTTP listener.
type Server struct {
	opts    Options
	runner  SyncRunner
	tenants storage.TenantStore
	logger  zerolog.Logger
	httpSrv *http.Server
}

// NewServer wires the admin routes.
func NewServer(opts Options, runner SyncRunner, tenants storage.TenantStore, logger zerolog.Logger) *Server {
	s := &Server{
		opts:    opts,
		runner:  runner,
		tenants: tenants,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}

	router := mux.NewRouter()
	router.Use(s.requestLogger)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/sync/run", s.handleSyncRun).Methods(http.MethodPost)
	router.HandleFunc("/api/sync/status", s.handleSyncStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/tenants", s.handleTenantList).Methods(http.MethodGet)
	router.HandleFunc("/api/tenants/{id}/status", s.handleTenantStatus).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("admin api listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSyncRun triggers a sync run synchronously and returns its
// report. A run already in flight yields 409 rather than queueing.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.RunNow(r.Context())
	if errors.Is(err, syncer.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("manual sync run failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.runner.Running()})
}

func (s *Server) handleTenantList(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.tenants.ListTenantStatuses(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list tenant statuses failed")
		writeError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	writeJSON(w, http.StatusOK, toStatusPayloads(statuses))
}

func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tenant, err := s.tenants.GetTenant(r.Context(), id)
	if errors.Is(err, storage.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", id).Msg("get tenant failed")
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}

	tokenExpired := tenant.TokenExpiry == nil || tenant.TokenExpiry.Before(time.Now())
	writeJSON(w, http.StatusOK, statusPayload{
		TenantID:     tenant.ID,
		Name:         tenant.Name,
		Connected:    tenant.Connected(),
		SyncEnabled:  tenant.SyncEnabled,
		Active:       tenant.Active,
		TokenExpired: tokenExpired,
		LastSyncAt:   tenant.LastSyncAt,
	})
}

// statusPayload is the tenant view exposed over the API. Encrypted
// credentials never leave the storage layer.
type statusPayload struct {
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Connected    bool       `json:"connected"`
	SyncEnabled  bool       `json:"sync_enabled"`
	Active       bool       `json:"active"`
	TokenExpired bool       `json:"token_expired"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
}

func toStatusPayloads(statuses []storage.TenantStatus) []statusPayload {
	out := make([]statusPayload, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, statusPayload{
			TenantID:     st.TenantID,
			Name:         st.Name,
			Connected:    st.Connected,
			SyncEnabled:  st.SyncEnabled,
			Active:       st.Active,
			TokenExpired: st.TokenExpired,
			LastSyncAt:   st.LastSyncAt,
		})
	}
	return out
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(started)).
			Msg("request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
