// Command migrate applies every pending goose migration and exits,
// for use in a deploy step ahead of cmd/api-server or cmd/worker.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
	"github.com/auditeng/compliance/internal/logging"
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

	store, err := taskstore.Open(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("open database", zap.Error(err))
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		zapLogger.Fatal("run migrations", zap.Error(err))
	}
	zapLogger.Info("migrations applied")
}
