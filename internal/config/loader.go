package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "github.com/edgard/intake/internal/errors"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// INTAKE_AGENT_DEBOUNCE_SECONDS.
const EnvPrefix = "INTAKE"

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml in the working directory, or the file at path if set
// 3. INTAKE_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfig(v, path); err != nil {
		return nil, apperrors.NewConfigError("failed to load config file", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid config", err)
	}

	return cfg, nil
}

// Validate checks struct tags and the rules spanning several sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Agent.Extractor == "gemini" && c.Gemini.APIKey == "" {
		return errors.New("gemini.api_key is required when agent.extractor is gemini")
	}
	return nil
}

func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file %q not usable: %w", path, err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("http.read_timeout", DefaultHTTPReadTimeout)
	v.SetDefault("http.write_timeout", DefaultHTTPWriteTimeout)
	v.SetDefault("http.shutdown_timeout", DefaultHTTPShutdownTimeout)
	v.SetDefault("http.rate_limit", DefaultHTTPRateLimit)
	v.SetDefault("http.rate_burst", DefaultHTTPRateBurst)

	v.SetDefault("database.driver", DefaultDBDriver)
	v.SetDefault("database.dsn", DefaultDBDSN)
	v.SetDefault("database.max_open_conns", DefaultDBMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultDBMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultDBConnMaxLifetime)

	v.SetDefault("agent.debounce_seconds", DefaultAgentDebounceSeconds)
	v.SetDefault("agent.max_concurrent_runs", DefaultAgentMaxConcurrentRuns)
	v.SetDefault("agent.processing_delay", DefaultAgentProcessingDelay)
	v.SetDefault("agent.run_timeout", DefaultAgentRunTimeout)
	v.SetDefault("agent.stale_after", DefaultAgentStaleAfter)
	v.SetDefault("agent.extractor", DefaultAgentExtractor)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay", DefaultGeminiRetryDelay)
	v.SetDefault("gemini.breaker_failures", DefaultGeminiBreakerFailures)
	v.SetDefault("gemini.breaker_cooldown", DefaultGeminiBreakerCooldown)

	v.SetDefault("preprocess.workers", DefaultPreprocessWorkers)
	v.SetDefault("preprocess.queue_size", DefaultPreprocessQueueSize)
	v.SetDefault("preprocess.delay", DefaultPreprocessDelay)
	v.SetDefault("preprocess.wait_timeout", DefaultPreprocessWaitTimeout)

	for name, task := range DefaultTasks {
		v.SetDefault("scheduler.tasks."+name+".enabled", task.Enabled)
		v.SetDefault("scheduler.tasks."+name+".schedule", task.Schedule)
	}
}
