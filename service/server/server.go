package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/rescuer/service/config"
	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/temporal"
	"github.com/brojonat/rescuer/service/txcodec"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chain is everything the server reads from the Solana cluster.
type Chain interface {
	PlanChain
	WalletReader
	txcodec.LookupResolver
	simulate.RPC
}

// Server represents the HTTP server for the recovery service.
type Server struct {
	addr      string
	cfg       *config.Config
	chain     Chain
	decoder   Decoder
	simulator Simulator
	store     RescueStore
	scheduler temporal.Scheduler
	estimator FeeEstimator
	pricer    Pricer
	feed      RescueFeed
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, journal endpoints won't be available.
// The scheduler is optional - if nil, broadcast endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, chain Chain, store RescueStore, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		chain:     chain,
		decoder:   txcodec.NewDecoder(chain, m, logger),
		simulator: simulate.NewSimulator(chain, m, logger),
		store:     store,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// WithPrices enables the prices endpoint and USD values on portfolios.
func (s *Server) WithPrices(p Pricer) *Server {
	s.pricer = p
	return s
}

// WithEstimator enables priority fees on plans.
func (s *Server) WithEstimator(e FeeEstimator) *Server {
	s.estimator = e
	return s
}

// WithSSE enables the rescue streaming endpoints.
func (s *Server) WithSSE(f RescueFeed) *Server {
	s.feed = f
	return s
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, s.instrument(name, h))
	}

	// Transaction routes
	route("POST /api/v1/decode", "decode", handleDecode(s.decoder, s.estimator, s.simulator, s.logger))
	route("POST /api/v1/simulate", "simulate", handleSimulate(s.decoder, s.simulator, s.logger))
	route("POST /api/v1/plans", "plans", handleCreatePlan(s.chain, s.estimator, s.simulator, s.metrics, s.logger))

	// Wallet routes
	route("GET /api/v1/wallets/{address}/portfolio", "portfolio", handleGetPortfolio(s.chain, s.pricer, s.logger))
	route("GET /api/v1/wallets/{address}/history", "history", handleGetHistory(s.chain, s.logger))

	if s.pricer != nil {
		route("GET /api/v1/prices", "prices", handleGetPrices(s.pricer, s.logger))
	} else {
		s.logger.Warn("price client not configured, prices endpoint disabled")
	}

	// Broadcast routes (if Temporal is configured)
	if s.scheduler != nil {
		route("POST /api/v1/broadcasts", "create_broadcast", handleCreateBroadcast(s.scheduler, s.cfg.SolanaCluster, s.logger))
		route("GET /api/v1/broadcasts/{workflow_id}", "get_broadcast", handleGetBroadcast(s.scheduler, s.logger))
	} else {
		s.logger.Warn("temporal not configured, broadcast endpoints disabled")
	}

	// Journal routes (if the database is configured)
	if s.store != nil {
		route("GET /api/v1/rescues", "list_rescues", handleListRescues(s.store, s.cfg.SolanaCluster, s.logger))
		route("GET /api/v1/rescues/{signature}", "get_rescue", handleGetRescue(s.store, s.cfg.SolanaCluster, s.logger))
	} else {
		s.logger.Warn("database not configured, journal endpoints disabled")
	}

	// SSE streaming endpoints (if a rescue feed is configured)
	if s.feed != nil {
		mux.Handle("GET /api/v1/stream/rescues/{address}", handleStreamRescues(s.feed, s.logger))
		mux.Handle("GET /api/v1/stream/rescues", handleStreamRescues(s.feed, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // simulate and portfolio fan out to RPC
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the rescue feed first (disconnects all clients)
	if s.feed != nil {
		s.feed.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request counts and latency for a named handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(name, r.Method, rec.status, time.Since(start).Seconds())
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
