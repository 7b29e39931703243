package qerrors

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/qerrors/internal/cache"
	"github.com/vietddude/qerrors/internal/retry"
)

// Default advice endpoint settings.
const (
	DefaultAdviceURL = "https://api.openai.com/v1/chat/completions"
	DefaultModel     = "gpt-4o-mini"
)

// Config controls the analyzer. Zero values mean "use the default";
// the fields that can be switched off take a negative value for that.
type Config struct {
	// Advice endpoint.
	APIKey    string        `yaml:"api_key"`
	AdviceURL string        `yaml:"advice_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`

	// Outbound scheduling.
	Concurrency int `yaml:"concurrency"`
	QueueLimit  int `yaml:"queue_limit"` // negative = no queueing

	// Advice cache.
	CacheLimit       int           `yaml:"cache_limit"` // negative = caching off
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	CacheMemoryLimit uint64        `yaml:"cache_memory_limit"` // heap bytes; 0 = no pressure checks
	PurgeInterval    time.Duration `yaml:"purge_interval"`     // negative = no purge ticker

	// Retry and circuit breaking.
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RetryJitter      float64       `yaml:"retry_jitter"` // negative = no jitter
	Backoff          string        `yaml:"backoff"`      // exponential, linear, fixed, adaptive
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`

	// Connection pool and spend controls.
	MaxSockets     int     `yaml:"max_sockets"`
	MaxFreeSockets int     `yaml:"max_free_sockets"`
	TokenBudget    int     `yaml:"token_budget"` // negative = no token cap
	RateLimit      float64 `yaml:"rate_limit"`   // requests per second; 0 = unlimited
	RateBurst      int     `yaml:"rate_burst"`
	DailyLimit     int     `yaml:"daily_limit"` // advice calls per day; 0 = unlimited

	// Optional backends.
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// Archive retention, used when DatabaseURL is set.
	ArchiveRetention time.Duration `yaml:"archive_retention"`
	ArchiveSweep     string        `yaml:"archive_sweep"` // cron spec

	// Observability.
	MetricsInterval time.Duration `yaml:"metrics_interval"` // negative = no stats logging
	LogLevel        string        `yaml:"log_level"`        // debug, info, warn, error
	LogFormat       string        `yaml:"log_format"`       // json, text
	Logger          *slog.Logger  `yaml:"-"`
}

// DefaultConfig returns the effective defaults.
func DefaultConfig() Config {
	cfg, _ := Config{}.normalized()
	return cfg
}

// FromEnv builds a Config from QERRORS_* environment variables, loading
// a .env file first when one is present. The API key falls back to
// OPENAI_API_KEY.
func FromEnv() Config {
	_ = godotenv.Load()

	apiKey := getEnv("QERRORS_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("OPENAI_API_KEY", "")
	}

	return Config{
		APIKey:    apiKey,
		AdviceURL: getEnv("QERRORS_ADVICE_URL", ""),
		Model:     getEnv("QERRORS_MODEL", ""),
		Timeout:   getEnvDuration("QERRORS_TIMEOUT", 0),

		Concurrency: getEnvInt("QERRORS_CONCURRENCY", 0),
		QueueLimit:  envLimit("QERRORS_QUEUE_LIMIT"),

		CacheLimit:       envLimit("QERRORS_CACHE_LIMIT"),
		CacheTTL:         getEnvDuration("QERRORS_CACHE_TTL", 0),
		CacheMemoryLimit: getEnvBytes("QERRORS_CACHE_MEMORY_LIMIT"),
		PurgeInterval:    getEnvDuration("QERRORS_PURGE_INTERVAL", 0),

		RetryAttempts:    getEnvInt("QERRORS_RETRY_ATTEMPTS", 0),
		RetryBaseDelay:   getEnvDuration("QERRORS_RETRY_BASE_DELAY", 0),
		RetryMaxDelay:    getEnvDuration("QERRORS_RETRY_MAX_DELAY", 0),
		RetryJitter:      envJitter("QERRORS_RETRY_JITTER"),
		Backoff:          getEnv("QERRORS_BACKOFF", ""),
		BreakerThreshold: getEnvInt("QERRORS_BREAKER_THRESHOLD", 0),
		BreakerTimeout:   getEnvDuration("QERRORS_BREAKER_TIMEOUT", 0),

		MaxSockets:     getEnvInt("QERRORS_MAX_SOCKETS", 0),
		MaxFreeSockets: getEnvInt("QERRORS_MAX_FREE_SOCKETS", 0),
		TokenBudget:    getEnvInt("QERRORS_TOKEN_BUDGET", 0),
		RateLimit:      getEnvFloat("QERRORS_RATE_LIMIT", 0),
		RateBurst:      getEnvInt("QERRORS_RATE_BURST", 0),
		DailyLimit:     getEnvInt("QERRORS_DAILY_LIMIT", 0),

		RedisURL:    getEnv("QERRORS_REDIS_URL", ""),
		DatabaseURL: getEnv("QERRORS_DATABASE_URL", ""),

		ArchiveRetention: getEnvDuration("QERRORS_ARCHIVE_RETENTION", 0),
		ArchiveSweep:     getEnv("QERRORS_ARCHIVE_SWEEP", ""),

		MetricsInterval: getEnvDuration("QERRORS_METRICS_INTERVAL", 0),
		LogLevel:        getEnv("QERRORS_LOG_LEVEL", ""),
		LogFormat:       getEnv("QERRORS_LOG_FORMAT", ""),
	}
}

// LoadFile reads a Config from a YAML file. Environment variable
// references in the file are expanded first.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// normalized fills defaults, maps disabled sentinels onto their
// effective values, and clamps out-of-range settings. It returns the
// effective configuration and one warning per adjusted field.
func (c Config) normalized() (Config, []string) {
	var warnings []string

	if c.AdviceURL == "" {
		c.AdviceURL = DefaultAdviceURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	switch {
	case c.Concurrency == 0:
		c.Concurrency = 5
	case c.Concurrency < 0:
		warnings = append(warnings, fmt.Sprintf("concurrency %d below minimum, using 1", c.Concurrency))
		c.Concurrency = 1
	case c.Concurrency > 64:
		warnings = append(warnings, fmt.Sprintf("concurrency %d above maximum, using 64", c.Concurrency))
		c.Concurrency = 64
	}

	switch {
	case c.QueueLimit == 0:
		c.QueueLimit = 100
	case c.QueueLimit < 0:
		c.QueueLimit = 0
	case c.QueueLimit > 10000:
		warnings = append(warnings, fmt.Sprintf("queue limit %d above maximum, using 10000", c.QueueLimit))
		c.QueueLimit = 10000
	}

	switch {
	case c.CacheLimit == 0:
		c.CacheLimit = 50
	case c.CacheLimit < 0:
		c.CacheLimit = 0
	case c.CacheLimit > cache.MaxEntriesCeiling:
		warnings = append(warnings, fmt.Sprintf("cache limit %d above ceiling, using %d", c.CacheLimit, cache.MaxEntriesCeiling))
		c.CacheLimit = cache.MaxEntriesCeiling
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	switch {
	case c.PurgeInterval == 0:
		c.PurgeInterval = time.Minute
	case c.PurgeInterval < 0:
		c.PurgeInterval = 0
	}

	switch {
	case c.RetryAttempts == 0:
		c.RetryAttempts = 3
	case c.RetryAttempts < 0:
		warnings = append(warnings, fmt.Sprintf("retry attempts %d below minimum, using 1", c.RetryAttempts))
		c.RetryAttempts = 1
	case c.RetryAttempts > 10:
		warnings = append(warnings, fmt.Sprintf("retry attempts %d above maximum, using 10", c.RetryAttempts))
		c.RetryAttempts = 10
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		warnings = append(warnings, fmt.Sprintf("retry max delay %s below base delay %s, using base delay", c.RetryMaxDelay, c.RetryBaseDelay))
		c.RetryMaxDelay = c.RetryBaseDelay
	}

	switch {
	case c.RetryJitter == 0:
		c.RetryJitter = 0.1
	case c.RetryJitter < 0:
		c.RetryJitter = 0
	case c.RetryJitter > 1:
		warnings = append(warnings, fmt.Sprintf("retry jitter %.2f above maximum, using 1.0", c.RetryJitter))
		c.RetryJitter = 1
	}

	if _, ok := retry.ParseAlgorithm(c.Backoff); !ok {
		warnings = append(warnings, fmt.Sprintf("unknown backoff algorithm %q, using exponential", c.Backoff))
		c.Backoff = string(retry.AlgorithmExponential)
	}
	if c.Backoff == "" {
		c.Backoff = string(retry.AlgorithmExponential)
	}

	switch {
	case c.BreakerThreshold == 0:
		c.BreakerThreshold = 5
	case c.BreakerThreshold < 0:
		warnings = append(warnings, fmt.Sprintf("breaker threshold %d below minimum, using 1", c.BreakerThreshold))
		c.BreakerThreshold = 1
	case c.BreakerThreshold > 100:
		warnings = append(warnings, fmt.Sprintf("breaker threshold %d above maximum, using 100", c.BreakerThreshold))
		c.BreakerThreshold = 100
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}

	if c.MaxSockets <= 0 {
		c.MaxSockets = 50
	}
	if c.MaxFreeSockets <= 0 {
		c.MaxFreeSockets = 10
	}
	if c.MaxFreeSockets > c.MaxSockets {
		c.MaxFreeSockets = c.MaxSockets
	}

	switch {
	case c.TokenBudget == 0:
		c.TokenBudget = 2048
	case c.TokenBudget < 0:
		c.TokenBudget = 0
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.DailyLimit < 0 {
		c.DailyLimit = 0
	}

	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = 720 * time.Hour
	}
	if c.ArchiveSweep == "" {
		c.ArchiveSweep = "0 3 * * *"
	}

	switch {
	case c.MetricsInterval == 0:
		c.MetricsInterval = 30 * time.Second
	case c.MetricsInterval < 0:
		c.MetricsInterval = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	return c, warnings
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBytes(key string) uint64 {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// envLimit reads a bound where an explicit "0" means disabled. Disabled
// is carried as -1 so it survives the zero-means-default normalization.
func envLimit(key string) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	if n == 0 {
		return -1
	}
	return n
}

// envJitter is envLimit for the jitter factor.
func envJitter(key string) float64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return 0
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	if f == 0 {
		return -1
	}
	return f
}
