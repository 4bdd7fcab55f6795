// Package dashboard serves the quote, connection and trade JSON API.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/batch"
	"github.com/eddiefleurent/wheel_tracker/internal/health"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
)

// QuoteService resolves option prices.
type QuoteService interface {
	ResolveQuote(ctx context.Context, key models.OptionContractKey) (*quotes.Quote, error)
	ResolveSymbol(ctx context.Context, symbol string) (*quotes.Quote, error)
	Diagnose(ctx context.Context, key models.OptionContractKey) (*quotes.Diagnosis, error)
	ClearCache()
	Stats() quotes.CacheStats
}

// ConnectionService reports whether the broker account is reachable.
type ConnectionService interface {
	TestConnection(ctx context.Context, force bool) health.ConnectionState
	ClearCache()
}

// PriceUpdater reprices open trades.
type PriceUpdater interface {
	UpdateOpenTrades(ctx context.Context) (batch.Summary, error)
	UpdateMissingPrices(ctx context.Context) (batch.Summary, error)
}

var (
	_ QuoteService      = (*quotes.Client)(nil)
	_ ConnectionService = (*health.Checker)(nil)
	_ PriceUpdater      = (*batch.Orchestrator)(nil)
)

// DefaultRequestTimeout bounds every API request. Bulk price updates can be slow.
const DefaultRequestTimeout = 5 * time.Minute

type Server struct {
	router    *chi.Mux
	server    *http.Server
	quotes    QuoteService
	conn      ConnectionService
	updater   PriceUpdater
	storage   storage.Interface
	logger    logrus.FieldLogger
	now       func() time.Time
	authToken string
	port      int
	timeout   time.Duration
}

type Config struct {
	AuthToken      string
	Port           int
	RequestTimeout time.Duration
}

// Services groups the backends the API exposes.
type Services struct {
	Quotes     QuoteService
	Connection ConnectionService
	Updater    PriceUpdater
	Storage    storage.Interface
}

func NewServer(cfg Config, svc Services, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		router:    chi.NewRouter(),
		quotes:    svc.Quotes,
		conn:      svc.Connection,
		updater:   svc.Updater,
		storage:   svc.Storage,
		logger:    logger.WithField("component", "api"),
		now:       time.Now,
		authToken: cfg.AuthToken,
		port:      cfg.Port,
		timeout:   cfg.RequestTimeout,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.timeout))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/quotes", s.handleQuote)
		r.Post("/quotes/diagnose", s.handleDiagnose)
		r.Get("/quotes/symbol/{symbol}", s.handleSymbolQuote)
		r.Get("/quotes/cache", s.handleCacheStats)
		r.Delete("/quotes/cache", s.handleClearQuoteCache)

		r.Get("/connection", s.handleConnection)
		r.Delete("/connection/cache", s.handleClearConnectionCache)

		r.Post("/prices/update", s.handleUpdatePrices)
		r.Post("/prices/fix-missing", s.handleFixMissingPrices)

		r.Get("/trades", s.handleListTrades)
		r.Post("/trades", s.handleAddTrade)
		r.Get("/trades/{id}", s.handleGetTrade)
		r.Get("/summary", s.handleSummary)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}
