// Package config loads and validates the service configuration from
// defaults, an optional config.yaml and INTAKE_* environment variables.
package config

import (
	"time"
)

// Config is the root configuration of the intake service.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// HTTPConfig holds the API server settings. A zero RateLimit disables
// rate limiting on message intake.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s,max=10m"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s,max=10m"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=10m"`
	RateLimit       float64       `mapstructure:"rate_limit"       validate:"min=0"`
	RateBurst       int           `mapstructure:"rate_burst"       validate:"min=0"`
}

// DatabaseConfig selects the SQL backend. DSN is a file path for sqlite and
// a connection URL for postgres.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn"               validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"min=0"`
}

// AgentConfig controls the debounced batch runs.
type AgentConfig struct {
	// DebounceSeconds is the quiet period after the last message before a
	// run starts. Negative values disable automatic runs.
	DebounceSeconds   float64       `mapstructure:"debounce_seconds"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs" validate:"eq=1"`
	ProcessingDelay   time.Duration `mapstructure:"processing_delay"    validate:"min=0,max=10m"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"         validate:"min=1s,max=1h"`
	StaleAfter        time.Duration `mapstructure:"stale_after"         validate:"gtfield=RunTimeout"`
	Extractor         string        `mapstructure:"extractor"           validate:"oneof=keyword gemini"`
}

// DebounceInterval converts DebounceSeconds to a duration.
func (a AgentConfig) DebounceInterval() time.Duration {
	return time.Duration(a.DebounceSeconds * float64(time.Second))
}

// GeminiConfig configures the Gemini task extractor.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"min=0,max=1m"`
	// BreakerFailures consecutive failed extractions open the circuit for
	// BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=1,max=100"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" validate:"min=1s,max=1h"`
}

// PreprocessConfig sizes the pre-processing worker pool.
type PreprocessConfig struct {
	Workers     int           `mapstructure:"workers"      validate:"min=1,max=64"`
	QueueSize   int           `mapstructure:"queue_size"   validate:"min=1"`
	Delay       time.Duration `mapstructure:"delay"        validate:"min=0,max=1m"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" validate:"min=0,max=10m"`
}

// SchedulerConfig maps task names to their cron settings.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures one periodic maintenance task. Schedule is a cron
// expression with a leading seconds field.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
