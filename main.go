package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"presence-service/api"
	"presence-service/broadcast"
	"presence-service/hub"
	"presence-service/ingest"
	"presence-service/presence"
	"presence-service/subscription"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("load .env")
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	var auth *api.Auth
	if cfg.LocalAuth {
		auth = api.NewAuth(nil, cfg.Auth0Audience, "")
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Error("refresh jwks")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(cfg.Hub, logger)
	registry := presence.NewRegistry()
	controller := presence.NewController(registry, h, logger)
	local := broadcast.New(h, logger)

	var publisher api.Publisher = local
	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConn))
		defer rc.Close()
		publisher = subscription.NewRelay(rc, cfg.EventsChannel)
		go subscription.SubscribeEvents(ctx, logger, rc, cfg.EventsChannel, local)
	}

	if cfg.StorageConn != "" {
		queue, err := ingest.NewAzureQueue(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		if err := queue.Ensure(ctx); err != nil {
			log.Fatalf("create queue %s: %v", cfg.EventsQueue, err)
		}
		var dedupe ingest.Deduper
		if rc != nil {
			dedupe = ingest.NewRedisDeduper(rc, cfg.DedupeTTL)
		} else {
			logger.Warn("no redis configured; queue redeliveries will be published again")
		}
		go ingest.NewConsumer(queue, dedupe, publisher, logger, cfg.PollInterval).Run(ctx)
	}

	e := echo.New()
	e.HideBanner = true
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))

	api.Register(e, api.Server{
		Transport:    h,
		Lifecycle:    controller,
		Presence:     registry,
		Publisher:    publisher,
		Auth:         auth,
		ServiceToken: cfg.PublishToken,
		Logger:       logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
}
