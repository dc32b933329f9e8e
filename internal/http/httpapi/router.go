package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"styleforge/internal/http/handlers"
	"styleforge/internal/middleware"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/telemetry"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))
		r.Post("/transform", app.Transform)
	})

	r.Get("/jobs/{job_id}", app.JobStatus)
	r.Get("/styles", app.Styles)

	r.Post(runpod.WebhookPath, app.RunpodWebhook)
	r.Post("/webhooks/shopify", app.ShopifyWebhook)

	return r
}
