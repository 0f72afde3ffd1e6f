package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/api"
	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/config"
	"github.com/josephversace/caile-evidence/internal/coordinator"
	"github.com/josephversace/caile-evidence/internal/database"
	"github.com/josephversace/caile-evidence/internal/dedup"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/queue"
	"github.com/josephversace/caile-evidence/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	evidence := store.NewPostgresStore(pool)
	index := dedup.NewPostgresIndex(pool, evidence)
	auditor := audit.NewPostgresLogger(pool)

	gateway, err := objectstore.NewMinioGateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init object storage")
	}
	if err := gateway.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	coord := coordinator.New(evidence, index, auditor, gateway, cfg.PresignTTL, log,
		coordinator.WithVerifyEnqueuer(queue.NewClient(asynqClient)),
		coordinator.WithMaxFileSize(cfg.MaxFileSize),
	)

	server := api.New(cfg, coord, evidence, auditor, log)
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
