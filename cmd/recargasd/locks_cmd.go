// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/mextic/recargas/internal/engine"
	rlog "github.com/mextic/recargas/internal/log"
)

// cleanLocksCLI releases pipeline locks after a crash left them behind.
// Without --force only this host's locks are dropped; a live lock held
// by another process needs the explicit flag.
// Usage: recargasd clean-locks [--force] [--config path]
func cleanLocksCLI(args []string) int {
	fs := flag.NewFlagSet("clean-locks", flag.ContinueOnError)
	force := fs.Bool("force", false, "release every lock regardless of owner")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	rlog.Configure(rlog.Config{Level: "info", Service: "recargas"})
	logger := rlog.WithComponent("daemon")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("engine bootstrap failed")
		return exitFatal
	}
	defer eng.Shutdown(5 * time.Second)

	n, err := eng.ReleaseLocks(ctx, *force)
	if err != nil {
		logger.Error().Err(err).Msg("lock release failed")
		return exitFatal
	}
	fmt.Printf("released %d lock(s)\n", n)
	return exitOK
}
