package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/certrenew/internal/csr"
	"github.com/org/certrenew/internal/deploy"
	"github.com/org/certrenew/internal/history"
	"github.com/org/certrenew/internal/impact"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// FleetClient is everything the gateway needs from the fleet-manager
// client. *remote.Client satisfies it.
type FleetClient interface {
	csr.Backend
	impact.Backend
	deploy.Backend
	Verify(ctx context.Context, deviceID int, certName string) (*models.VerifyResult, error)
}

// Server is the renewal operations gateway: the pending-requests surface,
// impact previews and deploy runs, fronted for dashboards.
type Server struct {
	fleet     FleetClient
	lifecycle *csr.Lifecycle
	poller    *deploy.Poller
	store     history.Store
	recorder  *history.Recorder
	log       zerolog.Logger
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(fleet FleetClient, store history.Store, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		fleet:     fleet,
		lifecycle: csr.NewLifecycle(fleet, log),
		poller:    deploy.NewPoller(fleet, log),
		store:     store,
		recorder:  history.NewRecorder(store, log),
		log:       log,
		cfg:       cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(logMiddleware(s.log))
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	r.Handle("/metrics", MetricsHandler())
	r.Get("/v1/sys/health", s.HealthHandler)

	// Pending signing requests
	r.Get("/v1/csr", s.CSRListHandler)
	r.Post("/v1/csr", s.CSRGenerateHandler)
	r.Get("/v1/csr/{id}", s.CSRGetHandler)
	r.Post("/v1/csr/{id}/complete", s.CSRCompleteHandler)
	r.Delete("/v1/csr/{id}", s.CSRDeleteHandler)

	// Impact previews
	r.Get("/v1/impact", s.ImpactHandler)
	r.Get("/v1/verify", s.VerifyHandler)

	// Batch deploys
	r.Post("/v1/deploy/batch", s.DeployStartHandler)
	r.Get("/v1/deploy/batch/{id}", s.DeployStatusHandler)

	// History
	r.Get("/v1/history/events", s.HistoryEventsHandler)
	r.Get("/v1/history/runs", s.HistoryRunsHandler)
	r.Get("/v1/history/runs/{id}", s.HistoryRunHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // deploy submits poll to completion
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// detachedCtx is used for work that must outlive the HTTP request that
// started it, like following a deploy run to completion.
func (s *Server) detachedCtx() context.Context {
	return context.Background()
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
