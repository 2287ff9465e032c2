// Package server exposes the verification service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/ledger"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/store"
	"github.com/sells-group/credverify/internal/verify"
)

// Verifier is the part of verify.Service the API calls.
type Verifier interface {
	VerifyDocument(ctx context.Context, req verify.Request) (model.VerificationOutcome, error)
	VerifyPublic(ctx context.Context, data []byte, filename, claimantEmail string, who *model.Identity) (model.VerificationOutcome, error)
	AdminVerify(ctx context.Context, sel verify.AdminSelection, who model.Identity, actor string) (model.VerificationOutcome, error)
	ImportCorpus(ctx context.Context, rows []model.CorpusRow, uploadedBy string) ([]model.CorpusRecord, error)
	ImportDocumentSet(ctx context.Context, files []verify.Document, uploadedBy string) ([]model.DocumentFingerprint, error)
}

// AuditStore lists and acknowledges audit events.
type AuditStore interface {
	ListAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEvent, error)
	MarkAuditRead(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Deps are the server's collaborators. Metrics and Gatherer may be nil.
type Deps struct {
	Verifier Verifier
	Audit    AuditStore
	Ledger   ledger.Ledger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	handler http.Handler
}

// New builds the router.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, deps: deps}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.deps.Metrics.Middleware(routePattern))
	r.Use(requestLogger)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if secs := s.cfg.RequestTimeoutSecs; secs > 0 {
			r.Use(middleware.Timeout(time.Duration(secs) * time.Second))
		}
		r.Post("/verify", s.handleVerify)
		r.Post("/verify/public", s.handleVerifyPublic)
		r.Get("/ledger/stats", s.handleLedgerStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/verify", s.handleAdminVerify)
			r.Post("/corpus", s.handleImportCorpus)
			r.Post("/documents", s.handleImportDocuments)
			r.Get("/audit", s.handleListAudit)
			r.Post("/audit/{id}/read", s.handleMarkRead)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("took", time.Since(start)),
		)
	})
}
