// SPDX-License-Identifier: MIT

// Package config loads and validates the engine configuration with the
// precedence ENV > YAML file > defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mextic/recargas/internal/model"
)

// ErrInvalid wraps all validation failures; the CLI maps it to exit
// code 2.
var ErrInvalid = errors.New("config invalid")

// RetryStrategy selects the delay progression of the webservice retry
// ladder.
type RetryStrategy string

const (
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// ScheduleType selects how a service pipeline is triggered.
type ScheduleType string

const (
	ScheduleInterval   ScheduleType = "interval"
	ScheduleCron       ScheduleType = "cron"
	ScheduleFixedTimes ScheduleType = "fixed_times"
)

// LockProvider selects the distributed lock backend. The two backends
// are mutually exclusive; there is no runtime fallback.
type LockProvider string

const (
	LockRedis LockProvider = "redis"
	LockMySQL LockProvider = "mysql"
)

// ServiceConfig is the per-service-type tuning block.
type ServiceConfig struct {
	Importe float64 `yaml:"importe"` // recharge amount (GPS/ELIOT)
	Dias    int     `yaml:"dias"`    // validity days granted per recharge
	Codigo  string  `yaml:"codigo"`  // provider product code

	DelayBetweenCalls time.Duration `yaml:"delay_between_calls"`
	RetryStrategy     RetryStrategy `yaml:"retry_strategy"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	MaxRetries        int           `yaml:"max_retries"`

	ScheduleType    ScheduleType `yaml:"schedule_type"`
	ScheduleMinutes int          `yaml:"schedule_minutes"`
	ScheduleHours   []string     `yaml:"schedule_hours"` // "HH:MM" entries
	CronExpr        string       `yaml:"cron_expr"`

	DiasSinReportarLimite         int     `yaml:"dias_sin_reportar_limite"`
	MinutosSinReportarParaRecarga float64 `yaml:"minutos_sin_reportar_para_recarga"`

	MinBalanceThreshold float64       `yaml:"min_balance_threshold"`
	LockTimeout         time.Duration `yaml:"lock_timeout"`
	WebserviceTimeout   time.Duration `yaml:"webservice_timeout"`

	// VOZ only: package catalog, code -> definition.
	Paquetes map[string]model.PackageDef `yaml:"paquetes,omitempty"`
}

// TaecelConfig holds TAECEL REST credentials and endpoint.
type TaecelConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
	NIP string `yaml:"nip"`
}

// MSTConfig holds MST SOAP credentials and endpoint.
type MSTConfig struct {
	URL      string `yaml:"url"`
	Usuario  string `yaml:"usuario"`
	Password string `yaml:"password"`
}

// Config is the full engine configuration.
type Config struct {
	Timezone     string       `yaml:"default_timezone"`
	LockProvider LockProvider `yaml:"lock_provider"`
	DataDir      string       `yaml:"data_dir"` // queue + marker files
	LogLevel     string       `yaml:"log_level"`
	MetricsAddr  string       `yaml:"metrics_addr"` // empty disables the listener

	MySQLDSN      string `yaml:"mysql_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Taecel TaecelConfig `yaml:"taecel"`
	MST    MSTConfig    `yaml:"mst"`

	GPS   ServiceConfig `yaml:"gps"`
	VOZ   ServiceConfig `yaml:"voz"`
	Eliot ServiceConfig `yaml:"eliot"`
}

// Service returns the tuning block for the given service type.
func (c *Config) Service(s model.ServiceType) ServiceConfig {
	switch s {
	case model.ServiceGPS:
		return c.GPS
	case model.ServiceVOZ:
		return c.VOZ
	default:
		return c.Eliot
	}
}

// Default returns the built-in configuration. Amounts, windows and
// schedules mirror production operation; everything can be overridden
// per file or environment.
func Default() *Config {
	gps := ServiceConfig{
		Importe:                       10,
		Dias:                          8,
		Codigo:                        "TEL010",
		DelayBetweenCalls:             500 * time.Millisecond,
		RetryStrategy:                 RetryLinear,
		RetryBaseDelay:                time.Second,
		MaxRetries:                    3,
		ScheduleType:                  ScheduleInterval,
		ScheduleMinutes:               10,
		DiasSinReportarLimite:         14,
		MinutosSinReportarParaRecarga: 10,
		MinBalanceThreshold:           50,
		LockTimeout:                   10 * time.Minute,
		WebserviceTimeout:             30 * time.Second,
	}

	eliot := gps
	eliot.Codigo = "TEL010"
	eliot.MinutosSinReportarParaRecarga = 14

	voz := ServiceConfig{
		Importe:             0, // always from the package catalog
		Dias:                25,
		DelayBetweenCalls:   500 * time.Millisecond,
		RetryStrategy:       RetryLinear,
		RetryBaseDelay:      time.Second,
		MaxRetries:          3,
		ScheduleType:        ScheduleFixedTimes,
		ScheduleHours:       []string{"01:00", "04:00"},
		MinBalanceThreshold: 150,
		LockTimeout:         10 * time.Minute,
		WebserviceTimeout:   30 * time.Second,
		Paquetes:            DefaultPaquetes(),
	}

	return &Config{
		Timezone:     "America/Mazatlan",
		LockProvider: LockRedis,
		DataDir:      "./data",
		LogLevel:     "info",
		GPS:          gps,
		VOZ:          voz,
		Eliot:        eliot,
	}
}

// DefaultPaquetes is the built-in VOZ package catalog. Codes 10007
// through 200006 are legacy; subscribers referencing a code missing
// from this map are skipped and counted as failed, never defaulted.
func DefaultPaquetes() map[string]model.PackageDef {
	return map[string]model.PackageDef{
		"150005": {PSL: "PSL150", Days: 25, Amount: 150, Label: "Paquete 150 (25 días)"},
		"200005": {PSL: "PSL200", Days: 30, Amount: 200, Label: "Paquete 200 (30 días)"},
		"100005": {PSL: "PSL100", Days: 15, Amount: 100, Label: "Paquete 100 (15 días)"},
		"50005":  {PSL: "PSL050", Days: 7, Amount: 50, Label: "Paquete 50 (7 días)"},
	}
}

// Validate reports every configuration error at once, wrapped in
// ErrInvalid.
func (c *Config) Validate() error {
	var problems []string

	switch c.LockProvider {
	case LockRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "lock_provider=redis requires redis_addr")
		}
	case LockMySQL:
		if c.MySQLDSN == "" {
			problems = append(problems, "lock_provider=mysql requires mysql_dsn")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown lock_provider %q", c.LockProvider))
	}

	if c.MySQLDSN == "" {
		problems = append(problems, "mysql_dsn is required")
	}
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}

	for _, svc := range model.AllServices {
		sc := c.Service(svc)
		tag := svc.Lower()
		switch sc.ScheduleType {
		case ScheduleInterval:
			if sc.ScheduleMinutes <= 0 || sc.ScheduleMinutes > 59 {
				problems = append(problems, fmt.Sprintf("%s: schedule_minutes must be 1..59", tag))
			}
		case ScheduleFixedTimes:
			if len(sc.ScheduleHours) == 0 {
				problems = append(problems, fmt.Sprintf("%s: schedule_hours must not be empty", tag))
			}
			for _, h := range sc.ScheduleHours {
				if _, err := time.Parse("15:04", h); err != nil {
					problems = append(problems, fmt.Sprintf("%s: bad schedule hour %q", tag, h))
				}
			}
		case ScheduleCron:
			if sc.CronExpr == "" {
				problems = append(problems, fmt.Sprintf("%s: cron_expr must not be empty", tag))
			}
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown schedule_type %q", tag, sc.ScheduleType))
		}
		if sc.RetryStrategy != RetryLinear && sc.RetryStrategy != RetryExponential {
			problems = append(problems, fmt.Sprintf("%s: unknown retry_strategy %q", tag, sc.RetryStrategy))
		}
		if sc.MaxRetries < 1 {
			problems = append(problems, fmt.Sprintf("%s: max_retries must be >= 1", tag))
		}
		if sc.MinBalanceThreshold < 0 {
			problems = append(problems, fmt.Sprintf("%s: min_balance_threshold must not be negative", tag))
		}
	}

	if len(c.VOZ.Paquetes) == 0 {
		problems = append(problems, "voz: paquetes catalog must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, problems)
	}
	return nil
}
