package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Retry     RetryConfig     `mapstructure:"retry" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Retention RetentionConfig `mapstructure:"retention"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Handlers  HandlersConfig  `mapstructure:"handlers"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects the task store backend.
//
// For postgres URL is a connection string; for sqlite it is a file path or
// a file: URI. The memory driver ignores it.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres sqlite memory"`
	URL             string        `mapstructure:"url" validate:"required_unless=Driver memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig bounds the values producers may submit.
type QueueConfig struct {
	MinPriority       int  `mapstructure:"min_priority"`
	MaxPriority       int  `mapstructure:"max_priority" validate:"gtefield=MinPriority"`
	DefaultPriority   int  `mapstructure:"default_priority"`
	DefaultMaxRetries int  `mapstructure:"default_max_retries" validate:"gte=1,ltefield=MaxRetriesLimit"`
	MaxRetriesLimit   int  `mapstructure:"max_retries_limit" validate:"gte=1"`
	StrictTaskTypes   bool `mapstructure:"strict_task_types"`
}

// WorkerConfig sizes the worker pool and tunes the dispatcher.
type WorkerConfig struct {
	Count                  int           `mapstructure:"count" validate:"gte=1,lte=1024"`
	PollInterval           time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	TaskTimeout            time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	StuckTaskAge           time.Duration `mapstructure:"stuck_task_age" validate:"gtfield=TaskTimeout"`
	StuckTaskCheckInterval time.Duration `mapstructure:"stuck_task_check_interval" validate:"gt=0"`
	IDPrefix               string        `mapstructure:"id_prefix" validate:"required"`
	// ClaimRate limits claims per second across the pool. Zero disables the limit.
	ClaimRate      float64 `mapstructure:"claim_rate" validate:"gte=0"`
	ReportAttempts int     `mapstructure:"report_attempts" validate:"gte=1,lte=20"`
}

// RetryConfig parameterizes the exponential backoff applied to failed tasks.
type RetryConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay  time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter    float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// AuthConfig enables producer authentication. When both JWTSecret and
// APIKeyHashes are empty the task routes are open.
type AuthConfig struct {
	JWTSecret            string   `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	APIKeyHashes         []string `mapstructure:"api_key_hashes" validate:"dive,startswith=$2"`
	TokenLifetimeMinutes int      `mapstructure:"token_lifetime_minutes" validate:"gt=0,lte=44640"`
}

// Enabled reports whether any authentication method is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeyHashes) > 0
}

// RedisConfig enables cross-replica enqueue notifications.
type RedisConfig struct {
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	Channel string `mapstructure:"channel" validate:"required_with=URL"`
}

// TracingConfig configures the OTLP HTTP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Environment string `mapstructure:"environment"`
	Insecure    bool   `mapstructure:"insecure"`
}

// RetentionConfig controls the purge of finished tasks.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus endpoint and gauge refresh.
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path" validate:"required,startswith=/"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
}

// HandlersConfig toggles the optional built-in task handlers.
type HandlersConfig struct {
	HTTPRequest HTTPRequestHandlerConfig `mapstructure:"http_request"`
}

// HTTPRequestHandlerConfig controls the http.request handler, which lets
// producers make the server issue arbitrary outbound requests. It requires
// authentication to be enabled.
//
// An empty AllowedHosts permits every host. Entries match the request's
// hostname exactly, or include the port ("api.example.com:8443"). A zero
// Timeout means 30 seconds.
type HTTPRequestHandlerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AllowedHosts []string      `mapstructure:"allowed_hosts" validate:"dive,required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
}
