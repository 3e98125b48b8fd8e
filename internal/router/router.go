package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/airbridge/internal/core"
	"github.com/joshp123/airbridge/internal/server"
)

// RegisterPlugins registers plugin services on the gRPC server.
func RegisterPlugins(s *grpc.Server, plugins []core.Plugin) {
	for _, p := range plugins {
		p.RegisterGRPC(s)
	}
}

// HTTPOptions configures the HTTP surface.
type HTTPOptions struct {
	Plugins     []core.Plugin
	Metrics     *prometheus.Registry
	API         server.API
	CORSOrigins []string
	// RequestLog enables per-request access logging.
	RequestLog bool
}

// HTTP builds the chi router serving /health, /metrics, /dashboards and /api.
func HTTP(opts HTTPOptions) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	if opts.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", server.HealthHandler)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", server.MetricsHandler(opts.Metrics))
	}
	r.Method(http.MethodGet, "/dashboards/*", server.DashboardsHandler(core.DashboardsMap(opts.Plugins)))

	r.Route("/api", func(r chi.Router) {
		opts.API.RegisterRoutes(r)
		for _, p := range opts.Plugins {
			if registrant, ok := p.(core.HTTPRegistrant); ok {
				r.Route("/"+p.ID(), registrant.RegisterHTTP)
			}
		}
	})

	return r
}
