package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "RETRY_MAX_ATTEMPTS")
	unsetEnvWithCleanup(t, "BATCH_MAX_CONCURRENT")
	unsetEnvWithCleanup(t, "STATUS_POLL_CRON")
	unsetEnvWithCleanup(t, "SOURCE_CURRENCY")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default port 8084, got %q", cfg.ServerPort)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialDelayMs != 1000 || cfg.RetryMaxDelayMs != 10000 {
		t.Fatalf("unexpected retry delay defaults: initial=%d max=%d", cfg.RetryInitialDelayMs, cfg.RetryMaxDelayMs)
	}
	if cfg.RetryBackoffMultiplier != 2.0 {
		t.Fatalf("expected default multiplier 2.0, got %f", cfg.RetryBackoffMultiplier)
	}
	if cfg.BatchMaxConcurrent != 5 {
		t.Fatalf("expected default batch concurrency 5, got %d", cfg.BatchMaxConcurrent)
	}
	if cfg.StatusPollCron != "*/5 * * * *" {
		t.Fatalf("unexpected default poll cron %q", cfg.StatusPollCron)
	}
	if cfg.SourceCurrency != "USD" {
		t.Fatalf("expected default source currency USD, got %q", cfg.SourceCurrency)
	}
	if cfg.PayoutRateLimitPerMinute != 0 {
		t.Fatalf("expected rate limiting disabled by default, got %d", cfg.PayoutRateLimitPerMinute)
	}
}

func TestLoadConfig_UsesPayoutServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "PAYOUT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_NormalizesSourceCurrency(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SOURCE_CURRENCY", " gbp ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SourceCurrency != "GBP" {
		t.Fatalf("expected trimmed upper-case source currency, got %q", cfg.SourceCurrency)
	}
}

func TestLoadConfig_CoercesInvalidRetrySettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RETRY_MAX_ATTEMPTS", "-1")
	setEnvWithCleanup(t, "RETRY_BACKOFF_MULTIPLIER", "0.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("expected coerced retry attempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBackoffMultiplier != 2.0 {
		t.Fatalf("expected coerced multiplier 2.0, got %f", cfg.RetryBackoffMultiplier)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8084")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
