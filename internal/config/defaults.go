package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultHTTPAddr            = ":8000"
	DefaultHTTPReadTimeout     = 15 * time.Second
	DefaultHTTPWriteTimeout    = 30 * time.Second
	DefaultHTTPShutdownTimeout = 30 * time.Second
	DefaultHTTPRateLimit       = 50.0
	DefaultHTTPRateBurst       = 100

	DefaultDBDriver          = "sqlite"
	DefaultDBDSN             = "storage.db"
	DefaultDBMaxOpenConns    = 10
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 5 * time.Minute

	DefaultAgentDebounceSeconds   = 60.0
	DefaultAgentMaxConcurrentRuns = 1
	DefaultAgentProcessingDelay   = time.Duration(0)
	DefaultAgentRunTimeout        = 5 * time.Minute
	DefaultAgentStaleAfter        = 15 * time.Minute
	DefaultAgentExtractor         = "keyword"

	DefaultGeminiModel       = "gemini-2.5-flash"
	DefaultGeminiTemperature = 0.2
	DefaultGeminiMaxRetries  = 2
	DefaultGeminiRetryDelay  = 2 * time.Second

	DefaultGeminiBreakerFailures = 5
	DefaultGeminiBreakerCooldown = time.Minute

	DefaultPreprocessWorkers     = 4
	DefaultPreprocessQueueSize   = 256
	DefaultPreprocessDelay       = time.Duration(0)
	DefaultPreprocessWaitTimeout = 30 * time.Second
)

// DefaultTasks are the periodic maintenance tasks and their schedules.
var DefaultTasks = map[string]TaskConfig{
	"stale_requeue":    {Enabled: true, Schedule: "0 * * * * *"},
	"preprocess_sweep": {Enabled: true, Schedule: "*/30 * * * * *"},
	"agent_poll":       {Enabled: true, Schedule: "0 */5 * * * *"},
	"sql_maintenance":  {Enabled: true, Schedule: "0 0 3 * * *"},
}
