package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TASKQUEUE_DATABASE_URL.
const EnvPrefix = "TASKQUEUE"

// ConfigFileEnv names the environment variable that points at a YAML config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.log_format":       "json",
	"server.shutdown_timeout": 30 * time.Second,

	"database.driver":            "postgres",
	"database.url":               "",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    25,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.auto_migrate":      false,

	"queue.min_priority":        0,
	"queue.max_priority":        10,
	"queue.default_priority":    5,
	"queue.default_max_retries": 3,
	"queue.max_retries_limit":   25,
	"queue.strict_task_types":   false,

	"worker.count":                     4,
	"worker.poll_interval":             2 * time.Second,
	"worker.task_timeout":              5 * time.Minute,
	"worker.stuck_task_age":            30 * time.Minute,
	"worker.stuck_task_check_interval": time.Minute,
	"worker.id_prefix":                 "worker",
	"worker.claim_rate":                0.0,
	"worker.report_attempts":           5,

	"retry.base_delay": 5 * time.Second,
	"retry.max_delay":  10 * time.Minute,
	"retry.jitter":     0.2,

	"auth.jwt_secret":             "",
	"auth.api_key_hashes":         []string{},
	"auth.token_lifetime_minutes": 60,

	"redis.url":     "",
	"redis.channel": "taskqueue:enqueued",

	"tracing.enabled":      false,
	"tracing.endpoint":     "",
	"tracing.service_name": "taskqueue",
	"tracing.environment":  "development",
	"tracing.insecure":     false,

	"retention.enabled":  false,
	"retention.schedule": "@hourly",
	"retention.max_age":  7 * 24 * time.Hour,

	"metrics.enabled":          true,
	"metrics.path":             "/metrics",
	"metrics.refresh_interval": 15 * time.Second,

	"handlers.http_request.enabled":       false,
	"handlers.http_request.allowed_hosts": []string{},
	"handlers.http_request.timeout":       30 * time.Second,
}

// Load builds the configuration. Values are resolved in this order, later
// sources winning: defaults, the YAML file, TASKQUEUE_* environment variables.
//
// configFile may be empty; Load then uses $TASKQUEUE_CONFIG or looks for
// config.yaml in the working directory. A missing implicit file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("config")
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables that are already set are not
// overridden and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks struct tags and the constraints that span fields.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	q := c.Queue
	if q.DefaultPriority < q.MinPriority || q.DefaultPriority > q.MaxPriority {
		return fmt.Errorf("configuration validation failed: queue.default_priority %d outside [%d, %d]",
			q.DefaultPriority, q.MinPriority, q.MaxPriority)
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("configuration validation failed: retention.max_age must be positive when retention is enabled")
	}
	if c.Handlers.HTTPRequest.Enabled && !c.Auth.Enabled() {
		return fmt.Errorf("configuration validation failed: handlers.http_request.enabled requires auth.jwt_secret or auth.api_key_hashes")
	}
	return nil
}
