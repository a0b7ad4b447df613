package main

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/chronoswap/chronoswap/api"
	"github.com/chronoswap/chronoswap/chain"
	"github.com/chronoswap/chronoswap/config"
	"github.com/chronoswap/chronoswap/internal/engine"
	"github.com/chronoswap/chronoswap/internal/scheduler"
	"github.com/chronoswap/chronoswap/service"
	"github.com/chronoswap/chronoswap/storage"
	"github.com/chronoswap/chronoswap/storage/postgres"
)

func main() {
	cfg, err := config.GetConfigure()
	if err != nil {
		panic(err)
	}

	logger := logrus.New()

	sdClient, err := statsd.New(fmt.Sprintf("%s:%s", cfg.Datadog.Host, cfg.Datadog.Port))
	if err != nil {
		panic(err)
	}

	redisStorage, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		panic(err)
	}

	blockStorage, err := storage.NewBlockStorage(cfg.BlockStorage)
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
	defer func() {
		if err := client.Close(); err != nil {
			fmt.Println("fail to close asynq client,", err)
		}
	}()

	db, err := postgres.NewPostgresBackend(true, cfg.Server.Database.DSN)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	chainClient, err := chain.NewClient(cfg.Chain, logger.WithField("service", "chain"))
	if err != nil {
		logger.Fatalf("Failed to connect to chain rpc: %v", err)
	}

	orderService, err := service.NewOrderService(
		db,
		chainClient,
		scheduler.NewScheduler(client, logger),
		engine.SystemClock{},
		redisStorage,
		blockStorage,
		chainClient.EscrowAddress(),
		cfg.Chain.NativeAsset,
		cfg.Admin.Owners,
		logger,
	)
	if err != nil {
		logger.Fatalf("Failed to initialize order service: %v", err)
	}

	server := api.NewServer(cfg, orderService, sdClient, logger)
	if err := server.StartServer(); err != nil {
		panic(err)
	}
}
