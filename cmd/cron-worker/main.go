package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/guildworks/guildpass-backend/internal/cron"
	"github.com/guildworks/guildpass-backend/internal/oplog"
	"github.com/guildworks/guildpass-backend/internal/rolesync"
	"github.com/guildworks/guildpass-backend/internal/subscriptions"
	"github.com/guildworks/guildpass-backend/pkg/config"
	"github.com/guildworks/guildpass-backend/pkg/db"
	"github.com/guildworks/guildpass-backend/pkg/discord"
	"github.com/guildworks/guildpass-backend/pkg/logger"
	"github.com/guildworks/guildpass-backend/pkg/metrics"
	"github.com/guildworks/guildpass-backend/pkg/migrate"
	"github.com/guildworks/guildpass-backend/pkg/outbox"
	"github.com/guildworks/guildpass-backend/pkg/redis"
)

const lockKeyFormat = "gp:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
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

	lifecycleJob, err := cron.NewSubscriptionLifecycleJob(cron.SubscriptionLifecycleJobParams{
		Logger:    logg,
		DB:        dbClient,
		Repo:      subscriptionsRepo,
		Oplog:     oplogService,
		Outbox:    outboxService,
		Roles:     roleSyncService,
		Lifecycle: cfg.Lifecycle,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lifecycle job", err)
		os.Exit(1)
	}

	roleReconcileJob, err := cron.NewRoleReconcileJob(cron.RoleReconcileJobParams{
		Logger:  logg,
		Sync:    roleSyncService,
		GuildID: cfg.Discord.HomeGuildID,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create role reconcile job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(lifecycleJob, roleReconcileJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Lifecycle.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
