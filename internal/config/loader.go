// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mextic/recargas/internal/model"
)

// Loader applies the precedence ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader creates a loader for the given config file path. An empty
// path skips the file layer.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds the effective configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		raw, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, l.path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Timezone = ParseString("DEFAULT_TIMEZONE", cfg.Timezone)
	cfg.LockProvider = LockProvider(strings.ToLower(ParseString("LOCK_PROVIDER", string(cfg.LockProvider))))
	cfg.DataDir = ParseString("RECARGAS_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = ParseString("METRICS_ADDR", cfg.MetricsAddr)

	cfg.MySQLDSN = ParseString("MYSQL_DSN", cfg.MySQLDSN)
	cfg.RedisAddr = ParseString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("REDIS_DB", cfg.RedisDB)

	cfg.Taecel.URL = ParseString("TAECEL_URL", cfg.Taecel.URL)
	cfg.Taecel.Key = ParseString("TAECEL_KEY", cfg.Taecel.Key)
	cfg.Taecel.NIP = ParseString("TAECEL_NIP", cfg.Taecel.NIP)
	cfg.MST.URL = ParseString("MST_URL", cfg.MST.URL)
	cfg.MST.Usuario = ParseString("MST_USUARIO", cfg.MST.Usuario)
	cfg.MST.Password = ParseString("MST_PASSWORD", cfg.MST.Password)

	applyServiceEnv("GPS", &cfg.GPS)
	applyServiceEnv("VOZ", &cfg.VOZ)
	applyServiceEnv("ELIOT", &cfg.Eliot)
}

// applyServiceEnv overlays the per-service keys, e.g. GPS_IMPORTE,
// VOZ_SCHEDULE_HOURS, ELIOT_MIN_BALANCE_THRESHOLD. SCHEDULE_HOURS is a
// comma-separated HH:MM list. The VOZ package catalog is file-only.
func applyServiceEnv(prefix string, sc *ServiceConfig) {
	sc.Importe = ParseFloat(prefix+"_IMPORTE", sc.Importe)
	sc.Dias = ParseInt(prefix+"_DIAS", sc.Dias)
	sc.Codigo = ParseString(prefix+"_CODIGO", sc.Codigo)
	sc.DelayBetweenCalls = ParseDuration(prefix+"_DELAY_BETWEEN_CALLS", sc.DelayBetweenCalls)
	sc.RetryStrategy = RetryStrategy(strings.ToLower(ParseString(prefix+"_RETRY_STRATEGY", string(sc.RetryStrategy))))
	sc.RetryBaseDelay = ParseDuration(prefix+"_RETRY_BASE_DELAY", sc.RetryBaseDelay)
	sc.MaxRetries = ParseInt(prefix+"_MAX_RETRIES", sc.MaxRetries)
	sc.ScheduleType = ScheduleType(strings.ToLower(ParseString(prefix+"_SCHEDULE_TYPE", string(sc.ScheduleType))))
	sc.ScheduleMinutes = ParseInt(prefix+"_SCHEDULE_MINUTES", sc.ScheduleMinutes)
	if raw := ParseString(prefix+"_SCHEDULE_HOURS", ""); raw != "" {
		parts := strings.Split(raw, ",")
		hours := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				hours = append(hours, p)
			}
		}
		sc.ScheduleHours = hours
	}
	sc.CronExpr = ParseString(prefix+"_CRON_EXPR", sc.CronExpr)
	sc.DiasSinReportarLimite = ParseInt(prefix+"_DIAS_SIN_REPORTAR_LIMITE", sc.DiasSinReportarLimite)
	sc.MinutosSinReportarParaRecarga = ParseFloat(prefix+"_MINUTOS_SIN_REPORTAR_PARA_RECARGA", sc.MinutosSinReportarParaRecarga)
	sc.MinBalanceThreshold = ParseFloat(prefix+"_MIN_BALANCE_THRESHOLD", sc.MinBalanceThreshold)
	sc.LockTimeout = ParseDuration(prefix+"_LOCK_TIMEOUT", sc.LockTimeout)
	sc.WebserviceTimeout = ParseDuration(prefix+"_WEBSERVICE_TIMEOUT", sc.WebserviceTimeout)
}

// TestToggle reports whether the development run-once toggle for the
// service is set (TEST_GPS, TEST_VOZ, TEST_ELIOT).
func TestToggle(s model.ServiceType) bool {
	return ParseBool("TEST_"+string(s), false)
}
