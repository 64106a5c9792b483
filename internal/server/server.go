// Package server exposes the cleanse pipelines over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/config"
	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
	"github.com/sells-group/crm-cleanse/internal/store"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
	"github.com/sells-group/crm-cleanse/pkg/metering"
)

// Runner is the slice of the pipeline the handlers drive. *pipeline.Pipeline
// satisfies it.
type Runner interface {
	Merge(ctx context.Context, req pipeline.MergeRequest) (*model.MergeResult, error)
	Clean(ctx context.Context, req pipeline.CleanRequest) (*model.CleanResult, error)
	Purge(ctx context.Context, req pipeline.PurgeRequest) (*model.PurgeResult, error)
}

// RunnerFactory builds a pipeline runner bound to the caller's CRM client.
// The CRM credential arrives per request, so the runner cannot be shared.
type RunnerFactory func(crm hubspot.Client) Runner

// Server wires the HTTP surface to the pipeline, the credit ledger, and the
// run audit trail.
type Server struct {
	newRunner RunnerFactory
	meter     metering.Client
	runs      store.Store
	rules     *config.RuleDefaults
	crmOpts   []hubspot.Option
	origins   []string
}

// Options configures a Server. Meter may be nil, which disables key
// validation and credit accounting. Runs may be nil, which disables the
// audit trail.
type Options struct {
	NewRunner RunnerFactory
	Meter     metering.Client
	Runs      store.Store
	Rules     *config.RuleDefaults
	CRMOpts   []hubspot.Option
	Origins   []string
}

func New(opts Options) *Server {
	if opts.Rules == nil {
		opts.Rules = &config.RuleDefaults{}
	}
	return &Server{
		newRunner: opts.NewRunner,
		meter:     opts.Meter,
		runs:      opts.Runs,
		rules:     opts.Rules,
		crmOpts:   opts.CRMOpts,
		origins:   opts.Origins,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-HubSpot-Access-Token", "X-Salesforce-Access-Token"},
		MaxAge:         300,
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/companies/merge", s.handleMerge)
		r.Post("/companies/clean", s.handleClean)
		r.Post("/companies/purge", s.handlePurge)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
