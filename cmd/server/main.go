package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modularcrm/syncqueue/internal/config"
	"github.com/modularcrm/syncqueue/internal/logger"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/pipeline"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/modularcrm/syncqueue/internal/sync"
	httptransport "github.com/modularcrm/syncqueue/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Message{}, &model.Product{}, &model.Customer{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis (processor wake channel)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer (dead-letter stream)
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo, entity set, pipeline, sync handler
	repository := repo.NewRepository(gdb, rdb, kw, log)
	entities := sync.NewEntitySet()
	entities.Register(func() sync.Entity { return &model.Product{} })
	entities.Register(func() sync.Entity { return &model.Customer{} })
	pipe := pipeline.New(repository, log)
	handler := sync.NewHandler(entities, pipe, repository, log)

	// 7. gin router
	router := httptransport.NewRouter(handler, repository, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("sync server for module %q listening on %s", cfg.Sync.ModuleName, addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
