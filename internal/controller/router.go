package controller

import (
	"github.com/cassiomorais/deploytrack/internal/gateway"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/observability"
	"github.com/cassiomorais/deploytrack/internal/manager"
	"github.com/cassiomorais/deploytrack/internal/store"
	customMW "github.com/cassiomorais/deploytrack/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Manager    *manager.Manager
	Gateway    *gateway.Gateway
	Store      store.Store
	Metrics    *observability.Metrics
	CORSConfig config.CORSConfig
	Server     config.ServerConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Store)
	transactionH := NewTransactionController(deps.Manager)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Request timeout applies to the request/response endpoints only;
		// the event stream is long-lived by design.
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(deps.Server.RequestTimeout))

			r.Post("/transactions", transactionH.Enqueue)
			r.Get("/transactions", transactionH.List)
			r.Get("/transactions/{id}", transactionH.Get)
			r.Delete("/transactions/{id}", transactionH.Cancel)
		})

		r.Get("/transactions/{id}/events", deps.Gateway.HandleEvents)
	})

	return r
}
