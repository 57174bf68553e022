// Package api exposes the lead pipeline over HTTP for operator tooling.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/pipeline"
	"github.com/sells-group/leadflow/internal/store"
)

// Server serves the operator API.
type Server struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	origins  []string
}

// New creates a Server. origins lists the CORS origins allowed to call it;
// an empty list allows any origin.
func New(p *pipeline.Pipeline, st store.Store, origins []string) *Server {
	return &Server{pipeline: p, store: st, origins: origins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)

	r.Route("/records", func(r chi.Router) {
		r.Get("/", s.listRecords)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getRecord)
			r.Post("/draft", s.saveDraft)
			r.Post("/approve", s.approve)
			r.Post("/revise", s.revise)
			r.Post("/sent", s.markSent)
		})
	})

	r.Get("/followups/next", s.nextFollowup)
	r.Get("/submissions/failed", s.failedSubmissions)
	r.Post("/reconcile/{campaignID}", s.reconcile)
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
