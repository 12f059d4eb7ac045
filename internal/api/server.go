// Package api exposes the scoring engine over HTTP.
package api

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/config"
	"github.com/hed1ad/safestride/internal/engine"
	"github.com/hed1ad/safestride/internal/metrics"
)

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   *engine.Engine
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *clientRateLimiter
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records request metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer creates a Server for eng configured by cfg.
func NewServer(eng *engine.Engine, cfg config.Config, opts ...Option) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	s := &Server{
		engine:   eng,
		cfg:      cfg,
		logger:   zap.NewNop(),
		validate: v,
	}
	for _, opt := range opts {
		opt(s)
	}

	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		s.limiter = newClientRateLimiter(rl.RequestsPerSecond, rl.Burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(instrument(s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if s.limiter != nil {
		r.Use(rateLimit(s.limiter))
	}
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/profile/{user_id}", s.handleGetProfile)
	r.Delete("/profile/{user_id}", s.handleDeleteProfile)
	r.Get("/users", s.handleListUsers)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// HTTPServer wraps Handler in an http.Server using the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
}
