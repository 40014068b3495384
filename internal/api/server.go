// Package api exposes document generation and the document registry over
// HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/catalog"
	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/monitoring"
	"github.com/sells-group/acqdocs/internal/resilience"
)

// Store is the read side of the document registry.
type Store interface {
	Get(ctx context.Context, id string) (*model.DocumentRecord, error)
	GetLatestByType(ctx context.Context, program string, docType model.DocumentType) (*model.DocumentRecord, error)
	GetReferrers(ctx context.Context, id string) ([]model.DocumentRecord, error)
	ListByProgram(ctx context.Context, program string) ([]model.DocumentRecord, error)
	GetContent(ctx context.Context, pointer string) (string, error)
	GetReport(ctx context.Context, documentID string) (*model.RefinementReport, error)
	Ping(ctx context.Context) error
}

// Generator refines and persists one document.
type Generator interface {
	Run(ctx context.Context, program string, docType model.DocumentType) (*model.RefinementReport, error)
}

// Options configure a Server.
type Options struct {
	// Threshold is the default quality threshold for program metrics.
	Threshold   int
	CORSOrigins []string
	// Breakers, when set, are reported by /health.
	Breakers *resilience.ServiceBreakers
}

// Server serves the HTTP API. Generation requests run in the background
// under the context given to New, so cancelling it stops them.
type Server struct {
	ctx     context.Context
	store   Store
	gen     Generator
	catalog *catalog.Catalog
	metrics *monitoring.Collector
	opts    Options
	jobs    *jobs
	wg      sync.WaitGroup
}

// New creates a Server.
func New(ctx context.Context, st Store, gen Generator, cat *catalog.Catalog, metrics *monitoring.Collector, opts Options) *Server {
	return &Server{
		ctx:     ctx,
		store:   st,
		gen:     gen,
		catalog: cat,
		metrics: metrics,
		opts:    opts,
		jobs:    newJobs(),
	}
}

// Wait blocks until every background generation has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", s.listCatalog)
		r.Get("/jobs/{id}", s.getJob)

		r.Route("/programs/{program}", func(r chi.Router) {
			r.Get("/documents", s.listDocuments)
			r.Post("/documents/{type}", s.generateDocument)
			r.Get("/documents/{type}/latest", s.latestDocument)
			r.Get("/metrics", s.programMetrics)
		})

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", s.getDocument)
			r.Get("/referrers", s.getReferrers)
			r.Get("/report", s.getReport)
			r.Get("/content", s.getContent)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
