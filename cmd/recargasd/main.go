// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mextic/recargas/internal/config"
	"github.com/mextic/recargas/internal/engine"
	rlog "github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/model"
)

var (
	version   = "2.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes: 0 success, 1 fatal runtime/bootstrap error, 2 invalid
// configuration.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "run-once":
			return runOnceCLI(args[1:])
		case "status":
			return statusCLI(args[1:])
		case "clean-locks":
			return cleanLocksCLI(args[1:])
		case "start":
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("recargasd", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *showVersion {
		fmt.Printf("recargasd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return exitOK
	}

	rlog.Configure(rlog.Config{Level: "info", Service: "recargas"})
	logger := rlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	// Re-configure with the loaded level.
	rlog.Configure(rlog.Config{Level: cfg.LogLevel, Service: "recargas"})

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "daemon.bootstrap_failed").Msg("engine bootstrap failed")
		return exitFatal
	}
	if err := eng.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("engine start failed")
		eng.Shutdown(5 * time.Second)
		return exitFatal
	}

	// Development toggles: TEST_GPS / TEST_VOZ / TEST_ELIOT trigger one
	// immediate tick without waiting for the schedule.
	for _, svc := range model.AllServices {
		svc := svc
		if config.TestToggle(svc) {
			go func() {
				logger.Info().Str("service", svc.Lower()).Msg("test toggle set, running immediate tick")
				_, _ = eng.RunOnce(ctx, svc)
			}()
		}
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	eng.Shutdown(30 * time.Second)
	return exitOK
}

// loadConfig resolves the config file path and loads the effective
// configuration. Without an explicit --config, ${RECARGAS_DATA}/config.yaml
// is picked up when it exists.
func loadConfig(explicit string) (*config.Config, int) {
	logger := rlog.WithComponent("daemon")

	path := strings.TrimSpace(explicit)
	if path == "" {
		dataDir := strings.TrimSpace(config.ParseString("RECARGAS_DATA", "./data"))
		auto := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(auto); err == nil {
			path = auto
		}
	}

	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			logger.Error().Err(err).Str("event", "config.invalid").Msg("configuration rejected")
			return nil, exitConfig
		}
		logger.Error().Err(err).Str("config_path", path).Str("event", "config.load_failed").Msg("failed to load configuration")
		return nil, exitFatal
	}
	if path != "" {
		logger.Info().Str("path", path).Str("event", "config.loaded").Msg("configuration loaded from file")
	}
	return cfg, exitOK
}
