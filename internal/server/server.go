package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/config"
	"github.com/taxaware/portfolio-engine/internal/database"
	"github.com/taxaware/portfolio-engine/internal/modules/harvesting"
	"github.com/taxaware/portfolio-engine/internal/modules/rebalancing"
	"github.com/taxaware/portfolio-engine/internal/modules/riskmodel"
)

// Config holds server configuration. Two stores back the engine: the
// analytics store (securities, prices, factor model outputs; written only
// by the risk model builder, read-only to harvesting and rebalancing) and
// the account store (read-write: accounts, tax lots, transactions,
// rebalancing events).
type Config struct {
	Port           int
	Log            zerolog.Logger
	AnalyticsDB    *database.DB
	AccountDB      *database.DB
	Config         *config.Config
	DevMode        bool
	RiskBuilder    *riskmodel.Builder
	Harvester      *harvesting.Service
	Rebalancer     *rebalancing.Service
}

// Server is the thin HTTP façade over the engine: enough to trigger a
// monthly cycle and read back its results. It is not the engine itself.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	analyticsDB *database.DB
	accountDB   *database.DB
	cfg         *config.Config
	riskBuilder *riskmodel.Builder
	harvester   *harvesting.Service
	rebalancer  *rebalancing.Service
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		analyticsDB: cfg.AnalyticsDB,
		accountDB:   cfg.AccountDB,
		cfg:         cfg.Config,
		riskBuilder: cfg.RiskBuilder,
		harvester:   cfg.Harvester,
		rebalancer:  cfg.Rebalancer,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/risk-model", func(r chi.Router) {
			r.Post("/build", s.handleBuildRiskModel)
		})
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/harvest/scan", s.handleScanHarvest)
			r.Post("/rebalance", s.handleRebalance)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBuildRiskModel triggers a risk model build for the given month
// (query param "month", YYYY-MM-DD; defaults to today truncated to month).
func (s *Server) handleBuildRiskModel(w http.ResponseWriter, r *http.Request) {
	month := parseMonth(r.URL.Query().Get("month"))
	result, err := s.riskBuilder.BuildMonth(r.Context(), month)
	if err != nil {
		s.log.Error().Err(err).Msg("risk model build failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScanHarvest(w http.ResponseWriter, r *http.Request) {
	accountID := chiURLParamInt64(r, "accountID")
	opps, err := s.harvester.Scan(r.Context(), accountID)
	if err != nil {
		s.log.Error().Err(err).Int64("account_id", accountID).Msg("harvest scan failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	accountID := chiURLParamInt64(r, "accountID")
	event, err := s.rebalancer.RebalanceAccount(r.Context(), accountID)
	if err != nil {
		s.log.Error().Err(err).Int64("account_id", accountID).Msg("rebalance failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseMonth(s string) time.Time {
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

func chiURLParamInt64(r *http.Request, key string) int64 {
	v := chi.URLParam(r, key)
	var id int64
	_, _ = fmt.Sscan(v, &id)
	return id
}
