package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/config"
	"github.com/josephversace/caile-evidence/internal/database"
	"github.com/josephversace/caile-evidence/internal/monitor"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
	"github.com/josephversace/caile-evidence/internal/worker"
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
	auditor := audit.NewPostgresLogger(pool)

	gateway, err := objectstore.NewMinioGateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init object storage")
	}
	if err := gateway.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}

	mon := monitor.New(evidence, gateway, auditor, &monitor.LogAlerter{Log: log}, cfg.IntegrityInterval, log)
	go mon.Run(ctx)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(mon, log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
