package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings.
// Load order: defaults -> YAML (optional) -> env overrides.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	DBMigrate   bool   `yaml:"db_migrate"`
	RedisURL    string `yaml:"redis_url"`

	Logging struct {
		Level      string `yaml:"level"`  // trace, debug, info, warn, error, disabled
		Format     string `yaml:"format"` // json, console
		Output     string `yaml:"output"` // stdout, file, multi
		FilePath   string `yaml:"file_path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Auth struct {
		Mode       string `yaml:"mode"` // dev, hmac
		HMACSecret string `yaml:"hmac_secret"`
	} `yaml:"auth"`

	Delivery struct {
		SystemName      string        `yaml:"system_name"`
		Timeout         time.Duration `yaml:"timeout"`
		MaxConcurrency  int           `yaml:"max_concurrency"`
		MaxAttempts     int           `yaml:"max_attempts"`
		BackoffBase     time.Duration `yaml:"backoff_base"`
		MaxBackoff      time.Duration `yaml:"max_backoff"`
		DefaultPriority int           `yaml:"default_priority"`
	} `yaml:"delivery"`

	RateLimit struct {
		Enabled  bool          `yaml:"enabled"`
		Requests int           `yaml:"requests"` // outbound budget per key per window
		Window   time.Duration `yaml:"window"`
		TTL      time.Duration `yaml:"ttl"` // idle limiter eviction
		MaxKeys  int           `yaml:"max_keys"`
	} `yaml:"rate_limit"`
}

// Load reads YAML if path is non-empty, then applies env overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func Defaults() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.DBMigrate = true

	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"
	c.Logging.FilePath = "/var/log/hookrelay/hookrelay.log"
	c.Logging.MaxSizeMB = 100
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28
	c.Logging.Compress = true

	c.Auth.Mode = "dev"

	c.Delivery.SystemName = "HookRelay"
	c.Delivery.Timeout = 30 * time.Second
	c.Delivery.MaxConcurrency = 5
	c.Delivery.MaxAttempts = 3
	c.Delivery.BackoffBase = time.Second
	c.Delivery.MaxBackoff = time.Hour
	c.Delivery.DefaultPriority = 5

	c.RateLimit.Enabled = true
	c.RateLimit.Requests = 1000
	c.RateLimit.Window = time.Hour
	c.RateLimit.TTL = 2 * time.Hour
	c.RateLimit.MaxKeys = 10000
	return c
}

func applyEnv(cfg *Config) {
	setStr(&cfg.ListenAddr, "HOOKRELAY_LISTEN_ADDR")
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ListenAddr = ":" + v
	}
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setBool(&cfg.DBMigrate, "HOOKRELAY_DB_MIGRATE")

	setStr(&cfg.Logging.Level, "HOOKRELAY_LOG_LEVEL")
	setStr(&cfg.Logging.Format, "HOOKRELAY_LOG_FORMAT")
	setStr(&cfg.Logging.Output, "HOOKRELAY_LOG_OUTPUT")
	setStr(&cfg.Logging.FilePath, "HOOKRELAY_LOG_FILE_PATH")
	setInt(&cfg.Logging.MaxSizeMB, "HOOKRELAY_LOG_MAX_SIZE_MB", 1)
	setInt(&cfg.Logging.MaxBackups, "HOOKRELAY_LOG_MAX_BACKUPS", 0)
	setInt(&cfg.Logging.MaxAgeDays, "HOOKRELAY_LOG_MAX_AGE_DAYS", 0)
	setBool(&cfg.Logging.Compress, "HOOKRELAY_LOG_COMPRESS")

	setStr(&cfg.Auth.Mode, "HOOKRELAY_AUTH_MODE")
	setStr(&cfg.Auth.HMACSecret, "HOOKRELAY_AUTH_HMAC_SECRET")

	setStr(&cfg.Delivery.SystemName, "HOOKRELAY_SYSTEM_NAME")
	setDur(&cfg.Delivery.Timeout, "HOOKRELAY_DELIVERY_TIMEOUT")
	setInt(&cfg.Delivery.MaxConcurrency, "HOOKRELAY_MAX_CONCURRENCY", 1)
	setInt(&cfg.Delivery.MaxAttempts, "HOOKRELAY_MAX_ATTEMPTS", 1)
	setDur(&cfg.Delivery.BackoffBase, "HOOKRELAY_BACKOFF_BASE")
	setDur(&cfg.Delivery.MaxBackoff, "HOOKRELAY_MAX_BACKOFF")
	setInt(&cfg.Delivery.DefaultPriority, "HOOKRELAY_DEFAULT_PRIORITY", 1)

	setBool(&cfg.RateLimit.Enabled, "HOOKRELAY_RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Requests, "HOOKRELAY_RATE_LIMIT_REQUESTS", 1)
	setDur(&cfg.RateLimit.Window, "HOOKRELAY_RATE_LIMIT_WINDOW")
	setDur(&cfg.RateLimit.TTL, "HOOKRELAY_RATE_LIMIT_TTL")
	setInt(&cfg.RateLimit.MaxKeys, "HOOKRELAY_RATE_LIMIT_MAX_KEYS", 1)
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, min int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.ToLower(v) == "true"
	}
}

func setDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
