package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fleetmon/fleetmon/internal/app/evaluator"
	"github.com/fleetmon/fleetmon/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("FLEETMON_CONFIG"), "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := evaluator.Run(ctx, cfg, logger); err != nil {
		logger.Fatal("evaluator exited with error", zap.Error(err))
	}
	logger.Info("evaluator stopped")
}
