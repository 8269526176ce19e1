// SPDX-License-Identifier: MIT

// Package log provides structured logging for the recargas engine.
// All components log through zerolog children of a single configured
// base logger.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
}

var (
	mu          sync.Mutex
	base        zerolog.Logger
	initialized bool
)

// Configure initialises the global zerolog logger. The daemon calls it
// once with defaults at startup and again after the configuration has
// been loaded, which may tighten or relax the level.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	} else if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		if initialized {
			// Level-only reconfiguration keeps the existing writer.
			return
		}
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "recargas"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()
	initialized = true
}

func logger() zerolog.Logger {
	mu.Lock()
	ok := initialized
	mu.Unlock()
	if !ok {
		Configure(Config{})
	}
	mu.Lock()
	defer mu.Unlock()
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// WithService returns a child logger annotated with the component name
// and the recharge service type it works for (gps, voz, eliot).
func WithService(component, serviceType string) zerolog.Logger {
	return logger().With().
		Str("component", component).
		Str("service_type", serviceType).
		Logger()
}
