package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskqueue/internal/api"
	apiMiddleware "github.com/phrazzld/taskqueue/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.queue, app.reporter, app.logger)

	r.Group(func(r chi.Router) {
		if app.config.Auth.Enabled() {
			r.Use(app.authMiddleware().Authenticate)
		}
		taskHandler.Mount(r)
	})

	r.Get("/health", api.HealthHandler(app.queue))

	if app.config.Metrics.Enabled {
		r.Handle(app.config.Metrics.Path, promhttp.Handler())
	}

	return r
}

// authMiddleware builds the middleware from whichever methods are configured.
// Unset methods stay nil interfaces so the middleware can skip them.
func (app *application) authMiddleware() *apiMiddleware.AuthMiddleware {
	var (
		tokens apiMiddleware.TokenValidator
		keys   apiMiddleware.KeyVerifier
	)
	if app.jwtService != nil {
		tokens = app.jwtService
	}
	if app.apiKeys != nil {
		keys = app.apiKeys
	}
	return apiMiddleware.NewAuthMiddleware(tokens, keys)
}
