package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/facilities-console/internal/alert"
	"github.com/frahmantamala/facilities-console/internal/permission"
	"github.com/frahmantamala/facilities-console/internal/session"
	"github.com/frahmantamala/facilities-console/internal/transport/middleware"
	"github.com/frahmantamala/facilities-console/internal/transport/swagger"
	"github.com/go-chi/chi"
)

// ResourceReport gates the alert queue: operators without any REPORT grant
// never see critical report alerts.
const ResourceReport = "REPORT"

type Dependencies struct {
	Health         *HealthHandler
	Session        *session.Handler
	Permission     *permission.Handler
	Alert          *alert.Handler
	Authorization  *permission.Authorization
	OpenAPI        []byte
	Metrics        http.Handler
	MetricsPath    string
	AllowedOrigins string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	// Apply global middleware
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware)

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics)
	}

	// Serve OpenAPI spec at root (outside API prefix)
	if deps.OpenAPI != nil {
		router.Get("/openapi.yml", swagger.SpecHandler(deps.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}

	// Mount API under /api/v1 to match the document's server url
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", deps.Health.healthCheckHandler)
		r.Get("/ping", deps.Health.pingHandler)

		if deps.Session != nil {
			r.Get("/session", deps.Session.GetSession)
			r.Post("/session/logout", deps.Session.Logout)
		}

		authz := deps.Authorization

		if deps.Permission != nil {
			r.Route("/permissions", func(pr chi.Router) {
				pr.Use(authz.RequireSession())
				pr.Get("/", deps.Permission.GetGrants)
				pr.Get("/check", deps.Permission.Check)
				pr.Post("/sync", deps.Permission.Sync)
			})
		}

		if deps.Alert != nil {
			r.Group(func(ar chi.Router) {
				ar.Use(authz.RequireResource(ResourceReport))
				ar.Get("/alerts", deps.Alert.GetAlerts)
				ar.Post("/alerts/{id}/ack", deps.Alert.Acknowledge)
			})

			r.Group(func(tr chi.Router) {
				tr.Use(authz.RequireSession())
				tr.Get("/toasts", deps.Alert.GetToasts)
				tr.Delete("/toasts/{id}", deps.Alert.DismissToast)
			})
		}
	})
}
