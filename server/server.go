// Package server exposes discovery, verification and minting over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/mint"
	"github.com/slavaghoul1337-coder/genge/types"
)

const maxBodyBytes = 1 << 20

// Service is what the handlers need from the verifier.
type Service interface {
	Verify(ctx context.Context, claim *types.PaymentClaim) (*types.VerificationDecision, error)
	Mint(ctx context.Context, claim *types.PaymentClaim, quantity int) (*types.VerificationDecision, *mint.Authorization, error)
	Lookup(ctx context.Context, txRef string) (*types.RedemptionRecord, error)
	Describe() types.X402Response
	DescribeMint() types.X402Response
}

type Server struct {
	svc      Service
	logger   logger.Logger
	gatherer prometheus.Gatherer
	timeout  time.Duration
	router   *chi.Mux
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsGatherer exposes g on GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithRequestTimeout bounds each request. It must exceed the verifier's own timeouts.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		logger:  logger.NoopLogger{},
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(map[string]any{"component": "http"})
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-PAYMENT"},
		ExposedHeaders: []string{"X-PAYMENT-RESPONSE"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/verifyOwnership", s.handleDescribe)
	r.Post("/verifyOwnership", s.handleVerify)

	r.Route("/mint", func(r chi.Router) {
		r.Get("/", s.handleDescribeMint)
		r.Post("/{amount}", s.handleMint)
	})

	r.Get("/redemptions/{txHash}", s.handleLookup)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		}()
		next.ServeHTTP(ww, r)
	})
}
