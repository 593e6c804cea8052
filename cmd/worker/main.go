// Command worker runs the job broker's consumer pool, processing
// uploaded tasks end-to-end through the orchestrator.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
	"github.com/auditeng/compliance/internal/logging"
	"github.com/auditeng/compliance/pkg/audit"
	"github.com/auditeng/compliance/pkg/extraction"
	"github.com/auditeng/compliance/pkg/jobbroker"
	"github.com/auditeng/compliance/pkg/notify"
	"github.com/auditeng/compliance/pkg/objectstore"
	"github.com/auditeng/compliance/pkg/orchestrator"
	"github.com/auditeng/compliance/pkg/profiles"
	"github.com/auditeng/compliance/pkg/taskstore"
	"github.com/auditeng/compliance/pkg/validation"
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

	provider, err := buildProvider(ctx, cfg.LLM)
	if err != nil {
		zapLogger.Fatal("build LLM provider", zap.Error(err))
	}
	llmClient := extraction.New(provider, cfg.LLM, zapLogger)

	registry, err := profiles.NewRegistry(cfg.Profiles, zapLogger)
	if err != nil {
		zapLogger.Fatal("load standard profiles", zap.Error(err))
	}
	engine, err := validation.New(ctx, registry)
	if err != nil {
		zapLogger.Fatal("build validation engine", zap.Error(err))
	}

	auditLog := audit.New(store.Audit, zapLogger)
	notifier := notify.New(cfg.Notify, zapLogger)

	orch := orchestrator.New(
		store.Tasks, store.Analyses, store.Findings, auditLog,
		objStore, llmClient, engine, notifier,
		cfg.Profiles.DefaultProfile, zapLogger,
	)

	zapLogger.Info("worker starting",
		zap.Int("threads", cfg.Broker.Threads),
		zap.String("llm_provider", cfg.LLM.Provider),
	)
	if err := broker.Run(ctx, orch.Process, orch.Terminal); err != nil {
		zapLogger.Fatal("broker run exited", zap.Error(err))
	}
}

// buildProvider selects the LLM backend per Config.LLM.Provider.
func buildProvider(ctx context.Context, cfg config.LLMConfig) (extraction.Provider, error) {
	if cfg.Provider == "bedrock" {
		return extraction.NewBedrockProvider(ctx, cfg.BedrockRegion, cfg.Model)
	}
	return extraction.NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
}
