package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshp123/airbridge/internal/bridge"
	"github.com/joshp123/airbridge/internal/config"
	"github.com/joshp123/airbridge/internal/core"
	compiled "github.com/joshp123/airbridge/internal/plugins"
	"github.com/joshp123/airbridge/internal/router"
	"github.com/joshp123/airbridge/internal/server"
)

const healthSyncInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("AIRBRIDGE_CONFIG", config.DefaultPath), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.DebugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen", "addr", cfg.Core.GRPCAddr, "error", err)
		os.Exit(1)
	}

	plugins := compiled.Compiled(compiled.Env{Config: cfg, Health: grpcServer.Health, Logger: logger})
	if err := core.ValidatePlugins(plugins); err != nil {
		logger.Error("invalid plugin set", "error", err)
		os.Exit(1)
	}
	if err := core.WriteDashboards(cfg.Core.DashboardDir, plugins); err != nil {
		logger.Warn("dashboards not provisioned", "dir", cfg.Core.DashboardDir, "error", err)
	}

	router.RegisterPlugins(grpcServer.Server, plugins)
	registry := core.NewRegistry(plugins, grpcServer.Health)
	go registry.Watch(ctx, healthSyncInterval)

	api := server.API{Plugins: registry, Logger: logger}
	for _, p := range plugins {
		if b, ok := p.(*bridge.Plugin); ok {
			api.Accessories = b.Accessories()
			api.Discover = b.Discover
		}
	}

	metrics := core.MetricsRegistry(plugins, core.BuildInfo(bridge.Version))
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, router.HTTP(router.HTTPOptions{
		Plugins:     plugins,
		Metrics:     metrics,
		API:         api,
		CORSOrigins: cfg.Core.CORSOrigins,
		RequestLog:  cfg.DebugMode,
	}))

	var runners []core.Runner
	for _, p := range plugins {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			logger.Error("start plugin", "plugin", p.ID(), "error", err)
			os.Exit(1)
		}
		runners = append(runners, runner)
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.Core.HTTPAddr)
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.Core.GRPCAddr)
		errs <- grpcServer.Serve()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	grpcServer.Stop()
	for _, runner := range runners {
		runner.Close()
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
