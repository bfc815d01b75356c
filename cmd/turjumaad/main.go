package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/turjumaad"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv_load_failed", "path", *envFile, "error", err.Error())
	}

	cfg, err := turjumaad.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	providers := turjumaad.NewProviderRegistry()
	registerProviders(providers)
	registerTransports(providers)

	app, err := turjumaad.NewEngine(turjumaad.EngineOptions{
		Config:    cfg,
		Providers: providers,
	})
	if err != nil {
		slog.Error("engine_init_failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutdown_signal", "signal", sig.String())
	case <-app.Done():
	}
	if err := app.Stop(); err != nil {
		slog.Error("engine_stop_failed", "error", err.Error())
		os.Exit(1)
	}
}
