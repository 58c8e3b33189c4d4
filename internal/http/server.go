// Package http exposes the trip and expense API plus the embedded web
// UI. Handlers stay thin: they parse the request, call the service
// layer, and translate results and errors into JSON.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"splittrip/internal/auth"
	"splittrip/internal/cache"
	"splittrip/internal/config"
	applog "splittrip/internal/log"
	"splittrip/internal/metrics"
	"splittrip/internal/middleware/ratelimit"
	"splittrip/internal/middleware/security"
	"splittrip/internal/middleware/trace"
	"splittrip/internal/services"
	"splittrip/web"
)

// Server wraps http.Server with the wiring the API needs: middleware
// chain, route table, cache cleanup, rate limiting, and the embedded UI.
type Server struct {
	http.Server

	service   *services.TripService
	tokens    *auth.JWTManager
	logger    *applog.Logger
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	caches    *cache.Manager
	templates *template.Template

	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer builds a fully wired server. A nil tokens manager disables
// PIN login and leaves every route open, matching a config without an
// auth secret.
func NewServer(cfg *config.Config, service *services.TripService, tokens *auth.JWTManager, logger *applog.Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		service:  service,
		tokens:   tokens,
		logger:   logger,
		metrics:  m,
		detector: security.NewDetector(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
		caches:    cache.NewManager(logger.Logger),
		startedAt: time.Now(),
	}

	m.RegisterRateLimitClients(s.limiter.ActiveClients)
	service.RegisterCaches(s.caches)
	s.caches.StartCleanup(10 * time.Minute)

	templates, err := template.ParseFS(web.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed to parse embedded templates", "error", err)
	}
	s.templates = templates

	s.Server = http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.buildHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// buildHandler assembles routes and the middleware chain. Metrics and
// rate limiting ride on mux middleware so route templates and path
// variables are available; everything else wraps the router from the
// outside, with panic recovery outermost.
func (s *Server) buildHandler(cfg *config.Config) http.Handler {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(s.metrics.Middleware))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Not found").Write(w)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "Method not allowed").Write(w)
	})

	// Operational endpoints are registered on the root router and are
	// not rate limited.
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)))

	api.HandleFunc("/trips", s.handleListTrips).Methods(http.MethodGet)
	api.HandleFunc("/trips", s.handleCreateTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods(http.MethodGet)
	api.Handle("/trips/{id}", s.requireAuth(s.handleUpdateTrip)).Methods(http.MethodPut)
	api.Handle("/trips/{id}", s.requireAuth(s.handleDeleteTrip)).Methods(http.MethodDelete)
	api.HandleFunc("/trips/{id}/expenses", s.handleListExpenses).Methods(http.MethodGet)
	api.Handle("/trips/{id}/expenses", s.requireAuth(s.handleCreateExpense)).Methods(http.MethodPost)
	api.Handle("/trips/{id}/expenses/import", s.requireAuth(s.handleImportExpenses)).Methods(http.MethodPost)
	api.Handle("/trips/{id}/expenses/{expenseId}", s.requireAuth(s.handleDeleteExpense)).Methods(http.MethodDelete)
	api.HandleFunc("/trips/{id}/balances", s.handleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}/settlements", s.handleGetSettlements).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}/export", s.handleExportCSV).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}/login", s.handleLogin).Methods(http.MethodPost)

	s.mountWebUI(router)

	// CORS wraps the router so preflight requests are answered before
	// route matching can 405 them.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)

	handler := s.securityMiddleware(corsHandler)
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = applog.Middleware(s.logger)(handler)
	handler = trace.NewMiddleware(s.detector.ExtractClientIP, s.logger).Middleware(handler)
	handler = s.recoverMiddleware(handler)

	return h2c.NewHandler(handler, &http2.Server{})
}

// mountWebUI serves the embedded single-page UI and its static assets.
func (s *Server) mountWebUI(router *mux.Router) {
	staticFiles, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		s.logger.Warn("Failed to mount embedded static assets", "error", err)
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFiles)))
		router.PathPrefix("/static/").Handler(security.StaticAssetMiddleware(3600)(fileServer))
	}
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
}

// securityMiddleware applies response headers and flags suspicious
// request patterns. Detection is advisory: flagged requests are counted
// and logged but still served.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	return headers.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason, suspicious := s.detector.DetectSuspiciousRequest(r); suspicious {
			s.metrics.SuspiciousRequestsTotal.WithLabelValues(reason).Inc()
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request detected",
				"reason", reason,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", s.detector.ExtractClientIP(r))
		}
		next.ServeHTTP(w, r)
	}))
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.ErrorContext(r.Context(), "Panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path)
				InternalServerError("Internal server error").Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth guards a mutating route with the bearer token check.
// Reads stay open, and so does trip creation, since no token can exist
// before the trip does.
func (s *Server) requireAuth(h http.HandlerFunc) http.Handler {
	if s.tokens == nil {
		return h
	}
	return auth.Require(s.tokens)(h)
}

func (s *Server) onRateLimited(r *http.Request, clientIP string) {
	s.metrics.RateLimitHitsTotal.Inc()
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		"client_ip", clientIP,
		"method", r.Method,
		"path", r.URL.Path)
}

// Shutdown stops background cleanup before draining in-flight requests.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
