package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	productcrop "github.com/menta2k/product-crop"
	"github.com/menta2k/product-crop/internal/config"
	"github.com/menta2k/product-crop/internal/log"
	"github.com/menta2k/product-crop/internal/utils"
	"github.com/menta2k/product-crop/pkg/server"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Default()
	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.L().Error("config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.L().Error("config", "error", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := productcrop.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg.Server.Addr, svc, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}
