package main

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/chain"
	"github.com/chronoswap/chronoswap/config"
	"github.com/chronoswap/chronoswap/internal/engine"
	"github.com/chronoswap/chronoswap/internal/scheduler"
	"github.com/chronoswap/chronoswap/internal/tasks"
	"github.com/chronoswap/chronoswap/service"
	"github.com/chronoswap/chronoswap/storage"
	"github.com/chronoswap/chronoswap/storage/postgres"
)

func main() {
	cfg, err := config.GetConfigure()
	if err != nil {
		panic(err)
	}

	logger := logrus.StandardLogger()

	sdClient, err := statsd.New(cfg.Datadog.Host + ":" + cfg.Datadog.Port)
	if err != nil {
		panic(err)
	}

	redisStorage, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		panic(err)
	}

	redisOptions := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOptions)

	db, err := postgres.NewPostgresBackend(false, cfg.Server.Database.DSN)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	chainClient, err := chain.NewClient(cfg.Chain, logger.WithField("service", "chain"))
	if err != nil {
		logger.Fatalf("Failed to connect to chain rpc: %v", err)
	}

	eng := engine.New(
		db,
		chainClient,
		chainClient,
		engine.SystemClock{},
		scheduler.NewScheduler(client, logger),
		redisStorage,
		logger,
	)
	worker := service.NewWorker(eng, sdClient, logger)

	srv := asynq.NewServer(
		redisOptions,
		asynq.Config{
			Logger:      logger,
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 10,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeOrderExecution, worker.HandleOrderExecution)
	if err := srv.Run(mux); err != nil {
		panic(fmt.Errorf("could not run server: %w", err))
	}
}
