package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/modularcrm/syncqueue/internal/bus"
	"github.com/modularcrm/syncqueue/internal/config"
	"github.com/modularcrm/syncqueue/internal/logger"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/processor"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/modularcrm/syncqueue/internal/sync"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Message{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)

	// Recipient registration happens before the processor starts.
	registry := bus.NewRegistry()
	registry.RegisterPayload(sync.PayloadTypeDeployment, sync.DecodeDeployment)
	registry.Subscribe(sync.PayloadTypeDeployment, "sync-delivery", func() bus.Recipient {
		return sync.NewDeliveryRecipient(cfg.Sync.Peers, &http.Client{Timeout: 30 * time.Second}, log)
	})

	proc := processor.New(repository, registry, processor.Config{
		BackoffDelays:        cfg.Queue.BackoffTable(),
		FallbackPollInterval: cfg.Queue.FallbackPollInterval.Duration,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("processor for module %q started", cfg.Sync.ModuleName)
	if err := proc.Run(ctx); err != nil {
		log.Fatalf("processor: %v", err)
	}
}
