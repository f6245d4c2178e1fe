package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"project-manager/config"
	"project-manager/domain"
	"project-manager/storage"
)

func main() {
	log.Info("workflow worker starting")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.CheckStorage(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.CheckRedis(); err != nil {
		log.Fatal(err)
	}

	store, err := storage.New(cfg.Storage.ConnectionString, storage.Options{
		ProjectsTable:   cfg.Storage.ProjectsTable,
		CommandQueue:    cfg.Storage.CommandQueue,
		GenerationQueue: cfg.Storage.GenerationQueue,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.ParseRedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	p := &processor{
		queue:      store,
		service:    domain.NewWorkflowService(store),
		cache:      storage.NewCache(store, rc, cfg.Redis.CacheTTL),
		updates:    storage.NewUpdatesBus(rc, cfg.Redis.UpdatesChannel),
		visibility: cfg.Worker.VisibilityTimeout,
		maxDequeue: int64(cfg.Worker.MaxDequeueCount),
		idle:       cfg.Worker.PollInterval,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p.run(ctx)
	log.Info("workflow worker stopped")
}
