package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/compliance-ledger/app"
	"github.com/upb/compliance-ledger/handlers"
	"github.com/upb/compliance-ledger/middleware"
	"github.com/upb/compliance-ledger/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id", "X-Content-Digest", "X-Manifest-Digest", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(dbOrNil(deps), logger)
	for name, check := range deps.ReadinessChecks() {
		health.WithCheck(name, check)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	controls := handlers.NewControlHandler(deps.Graph, logger)
	evidence := handlers.NewEvidenceHandler(deps.Ledger, deps.Config.Evidence.MaxUploadBytes, logger)
	tasks := handlers.NewTaskHandler(deps.Graph, logger)
	policies := handlers.NewPolicyHandler(deps.Graph, logger)
	exports := handlers.NewExportHandler(deps.Exports, logger)
	audits := handlers.NewAuditHandler(deps.Audit, logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		if deps.RateLimitMiddleware != nil {
			r.Use(deps.RateLimitMiddleware.LimitWrites)
		}
		if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
			r.Use(chimw.Timeout(timeout))
		}

		r.Get("/frameworks", controls.HandleListFrameworks)
		r.Get("/stats", controls.HandleStats)

		r.Route("/controls", func(r chi.Router) {
			r.Get("/", controls.HandleListControls)
			r.Route("/{controlID}", func(r chi.Router) {
				r.Get("/", controls.HandleGetControl)
				r.Get("/rollup", controls.HandleGetRollup)
				r.Put("/override", controls.HandleSetOverride)
				r.Delete("/override", controls.HandleClearOverride)
				r.Get("/slots", evidence.HandleListSlots)
				r.Post("/slots", evidence.HandleCreateSlot)
				r.Get("/tasks", tasks.HandleListTasks)
				r.Post("/tasks", tasks.HandleCreateTask)
			})
		})

		r.Route("/slots/{slotID}", func(r chi.Router) {
			r.Delete("/", evidence.HandleDeactivateSlot)
			r.Post("/versions", evidence.HandleUpload)
			r.Get("/versions", evidence.HandleListVersions)
			r.Get("/current", evidence.HandleCurrentVersion)
		})

		r.Route("/versions/{versionID}", func(r chi.Router) {
			r.Get("/", evidence.HandleGetVersion)
			r.Get("/content", evidence.HandleDownload)
			r.Put("/review", evidence.HandleReview)
			r.Get("/reviews", evidence.HandleReviewHistory)
		})

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Put("/", tasks.HandleUpdateTask)
			r.Delete("/", tasks.HandleDeleteTask)
			r.Patch("/status", tasks.HandleSetStatus)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", policies.HandleListPolicies)
			r.Post("/", policies.HandleCreatePolicy)
			r.Get("/{policyID}", policies.HandleGetPolicy)
			r.Put("/{policyID}", policies.HandleUpdatePolicy)
		})

		r.Route("/exports", func(r chi.Router) {
			r.Get("/", exports.HandleListExports)
			r.Post("/", exports.HandleRequestExport)
			r.Get("/{exportID}", exports.HandleGetExport)
			r.Get("/{exportID}/download", exports.HandleDownload)
		})

		r.Route("/audit-logs", func(r chi.Router) {
			r.Get("/", audits.HandleList)
			r.Get("/resources/{resourceID}", audits.HandleTrail)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})

	return r
}

func dbOrNil(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}
