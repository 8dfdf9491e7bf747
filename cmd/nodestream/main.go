package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/nodestream/internal/config"
	"github.com/syntrixbase/nodestream/internal/logging"
	"github.com/syntrixbase/nodestream/internal/services"
)

func main() {
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	transport := flag.String("transport", "", "Override transport provider (memory, nats)")
	storage := flag.String("storage", "", "Override storage backend (memory, mongo)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *transport != "" {
		cfg.Transport.Provider = *transport
	}
	if *storage != "" {
		cfg.Storage.Backend = *storage
	}
	if err := cfg.Transport.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -transport: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Storage.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -storage: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Shutdown()

	mgr := services.NewManager(cfg)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := mgr.Start(bgCtx); err != nil {
		slog.Error("Failed to start services", "error", err)
		mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	bgCancel()
	mgr.Shutdown(shutdownCtx)
}
