package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/chatrelay/internal/api"
	"github.com/gaspardpetit/chatrelay/internal/config"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
)

// New constructs the HTTP handler for the server. It installs a fresh
// Prometheus registry as the default so a separate metrics listener using
// promhttp.Handler serves the same collectors.
func New(cfg config.ServerConfig, chat *api.ChatHandler, state *api.StateHandler) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"X-Stream-Id"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	preg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)

	if chat.AllowedOrigins == nil {
		chat.AllowedOrigins = cfg.AllowedOrigins
	}

	r.Get("/", api.IndexHandler())
	r.Post("/chat", chat.Chat)
	r.Get("/chat/ws", chat.ChatWS)
	r.Get("/healthz", state.Healthz)
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", state.GetState)
		ar.Get("/openapi.json", api.OpenAPIHandler())
	})

	if !cfg.SeparateMetrics() {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}

// MetricsHandler serves /metrics from the default gatherer for a dedicated
// metrics listener.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
