package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildworks/guildpass-backend/api/controllers"
	"github.com/guildworks/guildpass-backend/api/middleware"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/logger"
)

// RouterParams collects every dependency the HTTP surface consumes.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      controllers.Pinger
	RedisPinger   controllers.Pinger
	Subscriptions controllers.SubscriptionService
	Keys          controllers.KeyService
	Applications  controllers.ApplicationService
	Oplog         controllers.OplogService
	RoleSync      controllers.RoleSyncService
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DBPinger, params.RedisPinger))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/token", controllers.AuthToken(cfg, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", controllers.SubscriptionCreate(params.Subscriptions, logg))
			r.Post("/migrate", controllers.SubscriptionMigrate(params.Subscriptions, logg))
			r.Get("/{guildId}", controllers.SubscriptionGet(params.Subscriptions, logg))
			r.Post("/{guildId}/extend", controllers.SubscriptionExtend(params.Subscriptions, logg))
			r.Post("/{guildId}/tier", controllers.SubscriptionSetTier(params.Subscriptions, logg))
			r.Post("/{guildId}/active", controllers.SubscriptionSetActive(params.Subscriptions, logg))
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", controllers.KeyList(params.Keys, logg))
			r.Post("/", controllers.KeyIssue(params.Keys, logg))
			r.Post("/redeem", controllers.KeyRedeem(params.Keys, logg))
			r.Get("/{key}", controllers.KeyInspect(params.Keys, logg))
		})

		r.Route("/applications", func(r chi.Router) {
			r.Post("/", controllers.ApplicationSubmit(params.Applications, logg))
			r.Get("/pending", controllers.ApplicationListPending(params.Applications, logg))
			r.Get("/{applicationId}", controllers.ApplicationGet(params.Applications, logg))
			r.Post("/{applicationId}/approve", controllers.ApplicationApprove(params.Applications, logg))
			r.Post("/{applicationId}/reject", controllers.ApplicationReject(params.Applications, logg))
			r.Post("/{applicationId}/hold", controllers.ApplicationHold(params.Applications, logg))
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", controllers.RuleList(params.Applications, logg))
			r.Post("/", controllers.RuleCreate(params.Applications, logg))
			r.Post("/{ruleId}/active", controllers.RuleSetActive(params.Applications, logg))
		})

		r.Get("/oplog", controllers.OplogList(params.Oplog, logg))
		r.Post("/roles/reconcile", controllers.RoleReconcile(params.RoleSync, cfg.Discord.HomeGuildID, logg))
	})

	return r
}
