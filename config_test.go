package qerrors

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AdviceURL != DefaultAdviceURL {
		t.Errorf("Expected default advice URL, got %q", cfg.AdviceURL)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("Expected default model, got %q", cfg.Model)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", cfg.Timeout)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Expected concurrency 5, got %d", cfg.Concurrency)
	}
	if cfg.QueueLimit != 100 {
		t.Errorf("Expected queue limit 100, got %d", cfg.QueueLimit)
	}
	if cfg.CacheLimit != 50 {
		t.Errorf("Expected cache limit 50, got %d", cfg.CacheLimit)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("Expected 24h cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != time.Second || cfg.RetryMaxDelay != 30*time.Second {
		t.Errorf("Expected 1s/30s retry delays, got %v/%v", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.RetryJitter != 0.1 {
		t.Errorf("Expected jitter 0.1, got %v", cfg.RetryJitter)
	}
	if cfg.Backoff != "exponential" {
		t.Errorf("Expected exponential backoff, got %q", cfg.Backoff)
	}
	if cfg.BreakerThreshold != 5 || cfg.BreakerTimeout != 30*time.Second {
		t.Errorf("Expected breaker 5/30s, got %d/%v", cfg.BreakerThreshold, cfg.BreakerTimeout)
	}
	if cfg.MaxSockets != 50 || cfg.MaxFreeSockets != 10 {
		t.Errorf("Expected sockets 50/10, got %d/%d", cfg.MaxSockets, cfg.MaxFreeSockets)
	}
	if cfg.TokenBudget != 2048 {
		t.Errorf("Expected token budget 2048, got %d", cfg.TokenBudget)
	}
	if cfg.MetricsInterval != 30*time.Second {
		t.Errorf("Expected 30s metrics interval, got %v", cfg.MetricsInterval)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Errorf("Expected text/info logging, got %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestFromEnvParsesValues(t *testing.T) {
	t.Setenv("QERRORS_API_KEY", "sk-test")
	t.Setenv("QERRORS_ADVICE_URL", "http://localhost:9999/v1/chat")
	t.Setenv("QERRORS_MODEL", "gpt-4o")
	t.Setenv("QERRORS_CONCURRENCY", "8")
	t.Setenv("QERRORS_CACHE_TTL", "1h")
	t.Setenv("QERRORS_RETRY_JITTER", "0.25")
	t.Setenv("QERRORS_BACKOFF", "linear")
	t.Setenv("QERRORS_RATE_LIMIT", "2.5")
	t.Setenv("QERRORS_DAILY_LIMIT", "500")

	cfg := FromEnv()

	if cfg.APIKey != "sk-test" {
		t.Errorf("Expected api key from env, got %q", cfg.APIKey)
	}
	if cfg.AdviceURL != "http://localhost:9999/v1/chat" {
		t.Errorf("Expected advice URL from env, got %q", cfg.AdviceURL)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Expected model from env, got %q", cfg.Model)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("Expected 1h cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.RetryJitter != 0.25 {
		t.Errorf("Expected jitter 0.25, got %v", cfg.RetryJitter)
	}
	if cfg.Backoff != "linear" {
		t.Errorf("Expected linear backoff, got %q", cfg.Backoff)
	}
	if cfg.RateLimit != 2.5 {
		t.Errorf("Expected rate limit 2.5, got %v", cfg.RateLimit)
	}
	if cfg.DailyLimit != 500 {
		t.Errorf("Expected daily limit 500, got %d", cfg.DailyLimit)
	}
}

func TestFromEnvFallsBackToOpenAIKey(t *testing.T) {
	t.Setenv("QERRORS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg := FromEnv()
	if cfg.APIKey != "sk-openai" {
		t.Errorf("Expected OPENAI_API_KEY fallback, got %q", cfg.APIKey)
	}
}

func TestFromEnvExplicitZeroDisables(t *testing.T) {
	t.Setenv("QERRORS_CACHE_LIMIT", "0")
	t.Setenv("QERRORS_QUEUE_LIMIT", "0")
	t.Setenv("QERRORS_RETRY_JITTER", "0")

	cfg := FromEnv()
	if cfg.CacheLimit != -1 {
		t.Errorf("Expected explicit zero carried as -1, got %d", cfg.CacheLimit)
	}
	if cfg.QueueLimit != -1 {
		t.Errorf("Expected explicit zero carried as -1, got %d", cfg.QueueLimit)
	}
	if cfg.RetryJitter != -1 {
		t.Errorf("Expected explicit zero carried as -1, got %v", cfg.RetryJitter)
	}

	effective, _ := cfg.normalized()
	if effective.CacheLimit != 0 {
		t.Errorf("Expected caching disabled, got limit %d", effective.CacheLimit)
	}
	if effective.QueueLimit != 0 {
		t.Errorf("Expected queueing disabled, got limit %d", effective.QueueLimit)
	}
	if effective.RetryJitter != 0 {
		t.Errorf("Expected jitter disabled, got %v", effective.RetryJitter)
	}
}

func TestNormalizedClampsRanges(t *testing.T) {
	cfg := Config{
		Concurrency:      100,
		QueueLimit:       20000,
		CacheLimit:       5000,
		RetryAttempts:    50,
		RetryJitter:      3,
		RetryMaxDelay:    time.Millisecond,
		Backoff:          "fibonacci",
		BreakerThreshold: 500,
		PurgeInterval:    -1,
	}

	effective, warnings := cfg.normalized()

	if effective.Concurrency != 64 {
		t.Errorf("Expected concurrency clamped to 64, got %d", effective.Concurrency)
	}
	if effective.QueueLimit != 10000 {
		t.Errorf("Expected queue limit clamped to 10000, got %d", effective.QueueLimit)
	}
	if effective.CacheLimit != 1000 {
		t.Errorf("Expected cache limit clamped to 1000, got %d", effective.CacheLimit)
	}
	if effective.RetryAttempts != 10 {
		t.Errorf("Expected attempts clamped to 10, got %d", effective.RetryAttempts)
	}
	if effective.RetryJitter != 1 {
		t.Errorf("Expected jitter clamped to 1, got %v", effective.RetryJitter)
	}
	if effective.RetryMaxDelay < effective.RetryBaseDelay {
		t.Errorf("Expected max delay raised to base delay, got %v < %v", effective.RetryMaxDelay, effective.RetryBaseDelay)
	}
	if effective.Backoff != "exponential" {
		t.Errorf("Expected unknown backoff replaced, got %q", effective.Backoff)
	}
	if effective.BreakerThreshold != 100 {
		t.Errorf("Expected breaker threshold clamped to 100, got %d", effective.BreakerThreshold)
	}
	if effective.PurgeInterval != 0 {
		t.Errorf("Expected negative purge interval to disable the ticker, got %v", effective.PurgeInterval)
	}
	if len(warnings) < 7 {
		t.Errorf("Expected a warning per adjustment, got %v", warnings)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("QERRORS_TEST_FILE_KEY", "sk-from-file")

	yaml := `
api_key: ${QERRORS_TEST_FILE_KEY}
model: gpt-4o
timeout: 45s
concurrency: 3
cache_limit: 10
cache_ttl: 2h
backoff: adaptive
log_format: json
`
	path := filepath.Join(t.TempDir(), "qerrors.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.APIKey != "sk-from-file" {
		t.Errorf("Expected env expansion in file, got %q", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Expected model from file, got %q", cfg.Model)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", cfg.Timeout)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("Expected concurrency 3, got %d", cfg.Concurrency)
	}
	if cfg.CacheLimit != 10 {
		t.Errorf("Expected cache limit 10, got %d", cfg.CacheLimit)
	}
	if cfg.CacheTTL != 2*time.Hour {
		t.Errorf("Expected 2h cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.Backoff != "adaptive" {
		t.Errorf("Expected adaptive backoff, got %q", cfg.Backoff)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("Expected json log format, got %q", cfg.LogFormat)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}
