/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	Environment              string  `mapstructure:"ENVIRONMENT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	TransferStatusQueue      string  `mapstructure:"TRANSFER_STATUS_QUEUE"`
	WiseAPIBaseURL           string  `mapstructure:"WISE_API_BASE_URL"`
	WiseAPIKey               string  `mapstructure:"WISE_API_KEY"`
	WiseProfileID            string  `mapstructure:"WISE_PROFILE_ID"`
	WiseWebhookSecret        string  `mapstructure:"WISE_WEBHOOK_SECRET"`
	JWKSURL                  string  `mapstructure:"JWKS_URL"`
	InternalAPIKey           string  `mapstructure:"INTERNAL_API_KEY"`
	SourceCurrency           string  `mapstructure:"SOURCE_CURRENCY"`
	RetryMaxAttempts         int     `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelayMs      int     `mapstructure:"RETRY_INITIAL_DELAY_MS"`
	RetryBackoffMultiplier   float64 `mapstructure:"RETRY_BACKOFF_MULTIPLIER"`
	RetryMaxDelayMs          int     `mapstructure:"RETRY_MAX_DELAY_MS"`
	BatchMaxConcurrent       int     `mapstructure:"BATCH_MAX_CONCURRENT"`
	StatusPollCron           string  `mapstructure:"STATUS_POLL_CRON"`
	StatusPollBatchSize      int     `mapstructure:"STATUS_POLL_BATCH_SIZE"`
	PayoutRateLimitPerMinute int     `mapstructure:"PAYOUT_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("TRANSFER_STATUS_QUEUE", "payout_service.transfer_status")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "payouts:rate_limit")
	viper.SetDefault("SOURCE_CURRENCY", "USD")
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_INITIAL_DELAY_MS", 1000)
	viper.SetDefault("RETRY_BACKOFF_MULTIPLIER", 2.0)
	viper.SetDefault("RETRY_MAX_DELAY_MS", 10000)
	viper.SetDefault("BATCH_MAX_CONCURRENT", 5)
	viper.SetDefault("STATUS_POLL_CRON", "*/5 * * * *")
	viper.SetDefault("STATUS_POLL_BATCH_SIZE", 100)
	viper.SetDefault("PAYOUT_RATE_LIMIT_PER_MINUTE", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSFER_STATUS_QUEUE")
	_ = viper.BindEnv("WISE_API_BASE_URL")
	_ = viper.BindEnv("WISE_API_KEY")
	_ = viper.BindEnv("WISE_PROFILE_ID")
	_ = viper.BindEnv("WISE_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYOUT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SOURCE_CURRENCY")
	_ = viper.BindEnv("RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("RETRY_INITIAL_DELAY_MS")
	_ = viper.BindEnv("RETRY_BACKOFF_MULTIPLIER")
	_ = viper.BindEnv("RETRY_MAX_DELAY_MS")
	_ = viper.BindEnv("BATCH_MAX_CONCURRENT")
	_ = viper.BindEnv("STATUS_POLL_CRON")
	_ = viper.BindEnv("STATUS_POLL_BATCH_SIZE")
	_ = viper.BindEnv("PAYOUT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYOUT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "payouts:rate_limit"
	}

	config.SourceCurrency = strings.ToUpper(strings.TrimSpace(config.SourceCurrency))
	if config.SourceCurrency == "" {
		config.SourceCurrency = "USD"
	}

	if config.RetryMaxAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive retry attempts configured; using default\" attempts=%d", config.RetryMaxAttempts)
		config.RetryMaxAttempts = 3
	}
	if config.RetryInitialDelayMs <= 0 {
		config.RetryInitialDelayMs = 1000
	}
	if config.RetryBackoffMultiplier < 1 {
		log.Printf("level=warn component=config msg=\"backoff multiplier below 1; coercing\" multiplier=%f", config.RetryBackoffMultiplier)
		config.RetryBackoffMultiplier = 2.0
	}
	if config.RetryMaxDelayMs < config.RetryInitialDelayMs {
		config.RetryMaxDelayMs = 10000
	}
	if config.BatchMaxConcurrent <= 0 {
		config.BatchMaxConcurrent = 5
	}
	if config.StatusPollBatchSize <= 0 {
		config.StatusPollBatchSize = 100
	}
	if config.PayoutRateLimitPerMinute < 0 {
		config.PayoutRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.StatusPollCron) == "" {
		config.StatusPollCron = "*/5 * * * *"
	}

	return
}
