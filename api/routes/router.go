package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/brandpulse/api/controllers"
	brandcontrollers "github.com/angelmondragon/brandpulse/api/controllers/brands"
	webhookcontrollers "github.com/angelmondragon/brandpulse/api/controllers/webhooks"
	"github.com/angelmondragon/brandpulse/api/middleware"
	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/idempotency"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

// Deps are the collaborators the HTTP surface routes to.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      controllers.Pinger
	Redis   *redis.Client
	Ingest  *ingest.Service
	Guard   *idempotency.Manager
	Gateway http.Handler
	Metrics http.Handler
}

// NewRouter assembles the API routes. Nil collaborators leave their routes
// answering INTERNAL_ERROR or, for middleware, disabled.
func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	var (
		events  webhookcontrollers.EventHandler
		syncs   brandcontrollers.EventHandler
		guard   webhookcontrollers.Guard
		limiter middleware.RateLimitStore
		replays redis.IdempotencyStore
	)
	if deps.Ingest != nil {
		events, syncs = deps.Ingest, deps.Ingest
	}
	if deps.Guard != nil {
		guard = deps.Guard
	}
	if deps.Redis != nil {
		limiter, replays = deps.Redis, deps.Redis
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	readiness := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, readiness))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.Gateway != nil {
		r.Handle("/ws", deps.Gateway)
	}

	syncPolicy := middleware.NewRateLimitPolicy(
		"historical-sync",
		"brandID",
		cfg.HTTP.SyncTriggerWindow,
		cfg.HTTP.SyncTriggerLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/shopify", webhookcontrollers.ShopifyWebhook(events, cfg.Shopify.WebhookSecret, guard, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(cfg.HTTP.CORSOrigins))
			r.With(
				middleware.Idempotency(replays, logg),
				middleware.RateLimit(syncPolicy, limiter, logg),
			).Post("/brands/{brandID}/historical-sync", brandcontrollers.HistoricalSync(syncs, logg))
		})
	})

	return r
}
