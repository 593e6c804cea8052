// Command api-server serves the ingestion and review APIs over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/auth"
	"github.com/auditeng/compliance/internal/config"
	"github.com/auditeng/compliance/internal/httpserver"
	"github.com/auditeng/compliance/internal/logging"
	"github.com/auditeng/compliance/internal/ratelimit"
	"github.com/auditeng/compliance/pkg/jobbroker"
	"github.com/auditeng/compliance/pkg/objectstore"
	"github.com/auditeng/compliance/pkg/taskstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zapLogger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := taskstore.Open(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("open database", zap.Error(err))
	}
	defer store.Close()

	objStore, err := objectstore.New(ctx, cfg.ObjectStore, zapLogger)
	if err != nil {
		zapLogger.Fatal("open object store", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.RedisAddr,
		Password: cfg.Broker.RedisPassword,
		DB:       cfg.Broker.RedisDB,
	})
	defer rdb.Close()
	broker := jobbroker.New(rdb, cfg.Broker, zapLogger)

	authService := auth.New(store.Users, cfg.Auth)
	limiter := ratelimit.New(rdb, cfg.RateLimit.PerMinuteCap, zapLogger)

	handler := httpserver.New(httpserver.Deps{
		Store:       store,
		ObjectStore: objStore,
		Broker:      broker,
		Auth:        authService,
		RateLimiter: limiter,
		Logger:      logging.Bridge(zapLogger),
		Config:      cfg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("api server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("api server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("api server graceful shutdown failed", zap.Error(err))
	}
}
