// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mextic/recargas/internal/engine"
	rlog "github.com/mextic/recargas/internal/log"
)

// statusCLI prints queue and lock state per service as JSON.
// Usage: recargasd status [--config path]
func statusCLI(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	rlog.Configure(rlog.Config{Level: "warn", Service: "recargas"})
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

	out, err := json.MarshalIndent(eng.Status(ctx), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitFatal
	}
	fmt.Println(string(out))
	return exitOK
}
