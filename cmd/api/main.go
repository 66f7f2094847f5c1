package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/guildworks/guildpass-backend/api/routes"
	"github.com/guildworks/guildpass-backend/internal/applications"
	"github.com/guildworks/guildpass-backend/internal/licensekeys"
	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/internal/rolesync"
	"github.com/guildworks/guildpass-backend/internal/subscriptions"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db"
	"github.com/guildworks/guildpass-backend/pkg/discord"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/migrate"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	discordClient, err := discord.NewClient(cfg.Discord)
	if err != nil {
		logg.Error(context.Background(), "failed to create discord client", err)
		os.Exit(1)
	}

	oplogService, err := oplog.NewService(oplog.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create oplog service", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())

	roleSyncService, err := rolesync.NewService(rolesync.ServiceParams{
		Directory: discordClient,
		Store:     subscriptionsRepo,
		DB:        dbClient,
		Oplog:     oplogService,
		Logger:    logg,
		Roles:     cfg.Roles,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rolesync service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:      subscriptionsRepo,
		DB:        dbClient,
		Oplog:     oplogService,
		Outbox:    outboxService,
		Roles:     roleSyncService,
		Logger:    logg,
		Lifecycle: cfg.Lifecycle,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	keyService, err := licensekeys.NewService(licensekeys.ServiceParams{
		Repo:         licensekeys.NewRepository(dbClient.DB()),
		DB:           dbClient,
		Oplog:        oplogService,
		Outbox:       outboxService,
		Entitlements: subscriptionService,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create license key service", err)
		os.Exit(1)
	}

	applicationService, err := applications.NewService(applications.ServiceParams{
		Repo:   applications.NewRepository(dbClient.DB()),
		Rules:  applications.NewRuleRepository(dbClient.DB()),
		DB:     dbClient,
		Oplog:  oplogService,
		Outbox: outboxService,
		Keys:   keyService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create application service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbClient,
			RedisPinger:   redisClient,
			Subscriptions: subscriptionService,
			Keys:          keyService,
			Applications:  applicationService,
			Oplog:         oplogService,
			RoleSync:      roleSyncService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
