package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"project-manager/api"
	"project-manager/config"
	"project-manager/domain"
	"project-manager/intake"
	"project-manager/storage"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	for _, check := range []func() error{cfg.CheckStorage, cfg.CheckRedis, cfg.CheckAuth} {
		if err := check(); err != nil {
			log.Fatal(err)
		}
	}

	store, err := storage.New(cfg.Storage.ConnectionString, storage.Options{
		ProjectsTable:    cfg.Storage.ProjectsTable,
		CommandQueue:     cfg.Storage.CommandQueue,
		GenerationQueue:  cfg.Storage.GenerationQueue,
		QueueConcurrency: cfg.Commands.Workers,
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

	cache := storage.NewCache(store, rc, cfg.Redis.CacheTTL)
	drafts := storage.NewDraftStore(rc, cfg.Redis.DraftTTL)
	bus := storage.NewUpdatesBus(rc, cfg.Redis.UpdatesChannel)
	deduper := api.NewRedisDeduper(rc, cfg.Redis.DedupeTTL)

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	sender := api.NewCommandSender(store, deduper, logger, api.SenderOptions{
		Workers:        cfg.Commands.Workers,
		Buffer:         cfg.Commands.Buffer,
		EnqueueTimeout: cfg.Commands.EnqueueTimeout,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	broker := api.NewBroker()
	go bus.Listen(ctx, func(upd storage.WorkflowUpdate) {
		log.WithField("workflow", upd.WorkflowID).Debug("workflow updated")
		broker.Notify(upd.WorkflowID)
	})

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(echoprometheus.NewMiddleware("project_manager"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Dependencies{
		Auth:       auth,
		Projects:   store,
		Workflows:  cache,
		Drafts:     drafts,
		Submitter:  intake.NewSubmitter(store, store, drafts),
		Deduper:    deduper,
		Sender:     sender,
		Broker:     broker,
		Aggregator: domain.NewWorkloadAggregator(cfg.Workload.WeeklyCapacity),
		Logger:     logger,
		Ping: func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		},
	})

	go func() {
		addr := ":" + cfg.Server.Port
		log.WithField("addr", addr).Info("api listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	sender.Close()
}

func newAuth(cfg config.AuthConfig) (*api.Auth, error) {
	if cfg.TestMode {
		log.Warn("auth test mode enabled, accepting HS256 tokens")
		return api.NewAuth(nil, api.AuthOptions{
			Audience:   cfg.Audience,
			OrgClaim:   cfg.OrgClaim,
			TestSecret: []byte(cfg.TestSecret),
		}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, api.AuthOptions{
		Audience: cfg.Audience,
		Issuer:   "https://" + cfg.Domain + "/",
		OrgClaim: cfg.OrgClaim,
	}), nil
}
