package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// MaxSlots is the sensor's template capacity.
const MaxSlots = 127

type Config struct {
	HTTPAddr string `toml:"http_addr"`

	Env   string `toml:"env"`   // "dev" | "prod"
	Store string `toml:"store"` // "sqlite" | "memory"

	// DB
	DBPath string `toml:"db_path"` // e.g. "./data/armario.db"

	// ConfigFile is the TOML file that was loaded, if any.
	ConfigFile string `toml:"-"`

	TickMS   int `toml:"tick_ms"`
	MaxSlots int `toml:"max_slots"`

	Drawer     DrawerConfig     `toml:"drawer"`
	Enrollment EnrollmentConfig `toml:"enrollment"`
	HTTP       HTTPConfig       `toml:"http"`
}

type DrawerConfig struct {
	UnlockSeconds   int `toml:"unlock_seconds"`
	AlertPeriodMS   int `toml:"alert_period_ms"`
	AlertPulseGapMS int `toml:"alert_pulse_gap_ms"`
}

type EnrollmentConfig struct {
	// StatusGraceMS keeps a finished enrollment readable after its first
	// status read. 0 shows it exactly once.
	StatusGraceMS int `toml:"status_grace_ms"`
}

type HTTPConfig struct {
	EnrollPerSecond float64 `toml:"enroll_per_second"`
	EnrollBurst     int     `toml:"enroll_burst"`
}

func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		Env:      "dev",
		Store:    "sqlite",
		DBPath:   "./data/armario.db",
		TickMS:   50,
		MaxSlots: MaxSlots,
		Drawer: DrawerConfig{
			UnlockSeconds:   15,
			AlertPeriodMS:   1000,
			AlertPulseGapMS: 200,
		},
		Enrollment: EnrollmentConfig{StatusGraceMS: 1500},
		HTTP:       HTTPConfig{EnrollPerSecond: 1, EnrollBurst: 3},
	}
}

// FromEnv returns the defaults overridden by ARMARIO_* variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg
}

// Load builds the configuration from defaults, the TOML file named by
// --config or ARMARIO_CONFIG, the environment and finally args.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("armario-server", pflag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (default :8080)")
	dbPath := fs.String("db", "", "sqlite database path (default ./data/armario.db)")
	env := fs.String("env", "", "environment: dev or prod")
	storeKind := fs.String("store", "", "record store backend: sqlite or memory")
	file := fs.String("config", "", "TOML configuration file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Defaults()

	path := *file
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ARMARIO_CONFIG"))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)

	if fs.Changed("addr") {
		cfg.HTTPAddr = *addr
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("env") {
		cfg.Env = *env
	}
	if fs.Changed("store") {
		cfg.Store = *storeKind
	}

	normalize(&cfg)
	return cfg, nil
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

func (c Config) UnlockWindow() time.Duration {
	return time.Duration(c.Drawer.UnlockSeconds) * time.Second
}

func (c Config) AlertPeriod() time.Duration {
	return time.Duration(c.Drawer.AlertPeriodMS) * time.Millisecond
}

func (c Config) AlertPulseGap() time.Duration {
	return time.Duration(c.Drawer.AlertPulseGapMS) * time.Millisecond
}

func (c Config) StatusGrace() time.Duration {
	return time.Duration(c.Enrollment.StatusGraceMS) * time.Millisecond
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("ARMARIO_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Env = getenvDefault("ARMARIO_ENV", cfg.Env)
	cfg.Store = getenvDefault("ARMARIO_STORE", cfg.Store)
	cfg.DBPath = getenvDefault("ARMARIO_DB_PATH", cfg.DBPath)

	cfg.TickMS = getenvInt("ARMARIO_TICK_MS", cfg.TickMS)
	cfg.MaxSlots = getenvInt("ARMARIO_MAX_SLOTS", cfg.MaxSlots)
	cfg.Drawer.UnlockSeconds = getenvInt("ARMARIO_UNLOCK_SECONDS", cfg.Drawer.UnlockSeconds)
	cfg.Enrollment.StatusGraceMS = getenvInt("ARMARIO_STATUS_GRACE_MS", cfg.Enrollment.StatusGraceMS)
}

// normalize replaces unusable values with defaults (fail-soft).
func normalize(cfg *Config) {
	def := Defaults()

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store != "sqlite" && cfg.Store != "memory" {
		cfg.Store = def.Store
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = def.HTTPAddr
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = def.DBPath
	}

	if cfg.TickMS <= 0 {
		cfg.TickMS = def.TickMS
	}
	if cfg.MaxSlots <= 0 || cfg.MaxSlots > MaxSlots {
		cfg.MaxSlots = def.MaxSlots
	}
	if cfg.Drawer.UnlockSeconds <= 0 {
		cfg.Drawer.UnlockSeconds = def.Drawer.UnlockSeconds
	}
	if cfg.Drawer.AlertPeriodMS <= 0 {
		cfg.Drawer.AlertPeriodMS = def.Drawer.AlertPeriodMS
	}
	if cfg.Drawer.AlertPulseGapMS <= 0 || cfg.Drawer.AlertPulseGapMS >= cfg.Drawer.AlertPeriodMS {
		cfg.Drawer.AlertPulseGapMS = cfg.Drawer.AlertPeriodMS / 5
	}
	if cfg.Enrollment.StatusGraceMS < 0 {
		cfg.Enrollment.StatusGraceMS = def.Enrollment.StatusGraceMS
	}
	if cfg.HTTP.EnrollPerSecond <= 0 {
		cfg.HTTP.EnrollPerSecond = def.HTTP.EnrollPerSecond
	}
	if cfg.HTTP.EnrollBurst <= 0 {
		cfg.HTTP.EnrollBurst = def.HTTP.EnrollBurst
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
