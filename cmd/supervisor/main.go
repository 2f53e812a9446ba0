package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0mdb/robot-buddy/internal/buildinfo"
	"github.com/0mdb/robot-buddy/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search standard locations)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("invalid log_level, using info", "error", err)
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	logger.Info("starting supervisor", "version", buildinfo.Version, "robot_id", cfg.RobotID)

	sup := NewSupervisor(cfg, logger)
	telemetry := NewTelemetryServer(cfg.Telemetry.Address, cfg.Telemetry.Port, sup.telemetryBus, sup.snapshot, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry server shutdown error", "error", err)
		}
	}()

	go sup.Run(ctx)

	if err := telemetry.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("telemetry server stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig finds and loads the config file, falling back to an
// in-memory development default if no config file is present anywhere
// on the search path and none was explicitly requested.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		logger.Warn("no config file found, using development defaults", "error", err)
		return config.Default(), nil
	}
	logger.Info("loading config", "path", path)
	return config.Load(path)
}
