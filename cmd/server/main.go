package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenNosePort/internal/auth"
	"github.com/KevinKickass/OpenNosePort/internal/config"
	"github.com/KevinKickass/OpenNosePort/internal/system"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config file")
	genKey := flag.Bool("gen-key", false, "print a new API key and its argon2id hash, then exit")
	flag.Parse()

	if *genKey {
		if err := printAPIKey(); err != nil {
			log.Fatalf("Failed to generate API key: %v", err)
		}
		return
	}

	// stdout may carry the command protocol; zap's production config logs to stderr
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	logger.Info("Config loaded successfully", zap.String("path", path))

	lifecycle, err := system.NewLifecycleManager(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	err = lifecycle.Start(startCtx)
	cancel()
	if err != nil {
		shutdown(lifecycle, cfg, logger)
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.Stringer("signal", sig))
	case <-lifecycle.Done():
		logger.Info("Shutdown requested over the API")
	}

	if err := shutdown(lifecycle, cfg, logger); err != nil {
		os.Exit(1)
	}
	logger.Info("OpenNosePort stopped successfully")
}

func shutdown(lifecycle *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func printAPIKey() error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.NewKeyHasher(auth.DefaultHashParams()).Hash(key)
	if err != nil {
		return err
	}

	fmt.Println("API key (give to clients, shown once):")
	fmt.Println("  " + key)
	fmt.Println("auth.api_key_hash (put in config):")
	fmt.Println("  " + hash)
	return nil
}
