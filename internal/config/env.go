// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mextic/recargas/internal/log"
)

// ParseString reads a string from an environment variable or returns
// the default. Sensitive keys (nip, password, key) are never echoed.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "nip") || strings.Contains(lower, "password") || strings.Contains(lower, "key") || strings.Contains(lower, "dsn") {
			logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
		} else {
			logger.Debug().Str("key", key).Str("value", v).Msg("using environment variable")
		}
		return v
	}
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the
// default, warning on malformed values.
func ParseInt(key string, defaultValue int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float64 from an environment variable or returns
// the default.
func ParseFloat(key string, defaultValue float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean ("true"/"false"/"1"/"0"/"yes"/"no") from an
// environment variable or returns the default.
func ParseBool(key string, defaultValue bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a Go duration (e.g. "30s") from an environment
// variable or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}
