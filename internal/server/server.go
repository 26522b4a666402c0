package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/foresight/internal/engine"
)

// Options toggles optional surfaces.
type Options struct {
	RateLimit   int // requests per minute per client IP; 0 disables
	Metrics     bool
	CORSOrigins []string // empty disables CORS handling
}

// Server is the foresight HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	opts    Options
	version string
	started time.Time
}

// New creates a Server over e.
func New(e *engine.Engine, version string, opts Options) *Server {
	s := &Server{
		engine:  e,
		opts:    opts,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	if s.opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
			}
			r.Use(middleware.AllowContentType("application/json"))

			r.Post("/content", s.handleStore)
			r.Get("/content/{id}", s.handleGet)
			r.Delete("/content/{id}", s.handleForget)
			r.Post("/access", s.handleAccess)

			r.Post("/predict", s.handlePredict)
			r.Post("/anticipate", s.handleAnticipate)

			r.Put("/context/{userID}/{deviceID}", s.handleSetContext)
			r.Delete("/context/{userID}/{deviceID}", s.handleClearContext)

			r.Get("/patterns/{userID}", s.handlePatterns)
			r.Get("/status", s.handleStatus)

			r.Post("/admin/detect", s.handleDetectAll)
			r.Post("/admin/detect/{userID}", s.handleDetect)
			r.Post("/admin/sweep", s.handleSweep)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	})
}
