// Package server assembles the HTTP router.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/middleware"
	"github.com/ayush/finalapi/internal/observability"
)

// Deps are the collaborators the router wires into routes.
type Deps struct {
	Auth           *auth.Handler
	Tokens         middleware.TokenVerifier
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
	AllowedOrigins []string
}

// NewRouter builds the service router.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(d.Registry))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", d.Auth.Register)
		r.Post("/login", d.Auth.Login)
		r.With(middleware.RequireAuth(d.Tokens)).Get("/me", d.Auth.Me)
	})

	return r
}
