// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mextic/recargas/internal/engine"
	rlog "github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/model"
)

// runOnceCLI executes a single pipeline tick for one service and exits.
// Usage: recargasd run-once <gps|voz|eliot> [--config path]
func runOnceCLI(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: recargasd run-once <gps|voz|eliot> [--config path]")
		return exitConfig
	}
	svc, err := model.ParseServiceType(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "run-once: %v\n", err)
		return exitConfig
	}
	if err := fs.Parse(args[1:]); err != nil {
		return exitConfig
	}

	rlog.Configure(rlog.Config{Level: "info", Service: "recargas"})
	logger := rlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, code := loadConfig(*configPath)
	if code != exitOK {
		return code
	}
	rlog.Configure(rlog.Config{Level: cfg.LogLevel, Service: "recargas"})

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("engine bootstrap failed")
		return exitFatal
	}
	defer eng.Shutdown(10 * time.Second)

	report, err := eng.RunOnce(ctx, svc)
	if err != nil {
		return exitFatal
	}
	fmt.Printf("service=%s outcome=%s candidates=%d dispatched=%d failed=%d recovered=%d\n",
		svc.Lower(), report.Outcome, report.Candidates, report.Dispatched, report.CallFailed, report.Recovered)
	return exitOK
}
