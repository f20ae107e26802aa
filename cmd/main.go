/**
 * @description
 * This is the main entry point for the payout-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment provider client, message brokers, repositories, the
 * core orchestration service, the status poller, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: For the status reconciliation schedule.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/wiseclient: Client for the transfer provider API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crescendo/payout-service/internal/api"
	"github.com/crescendo/payout-service/internal/app"
	"github.com/crescendo/payout-service/internal/config"
	"github.com/crescendo/payout-service/internal/store"
	rmrabbit "github.com/crescendo/payout-service/pkg/rabbitmq"
	"github.com/crescendo/payout-service/pkg/wiseclient"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.WiseAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"provider api key must be configured\" env=WISE_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s environment=%s", cfg.ServerPort, cfg.Environment)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing follows the platform's other services so payout bursts do
	// not starve the shared database.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle and status events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the transfer provider API.
	providerClient := wiseclient.NewClient(cfg.WiseAPIBaseURL, cfg.WiseAPIKey, cfg.WiseProfileID)

	// Optional Redis connection for the submission rate limiter.
	var redisClient *redis.Client
	if cfg.PayoutRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Build the retry policy from configuration.
	retryPolicy := &app.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
		Multiplier:   cfg.RetryBackoffMultiplier,
		MaxDelay:     time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
	}

	// Initialize the core orchestration service with its dependencies.
	payoutService := app.NewService(
		repository,
		providerClient,
		producer,
		retryPolicy,
		cfg.Environment,
		cfg.SourceCurrency,
	)
	payoutService.ConfigureBatchConcurrency(cfg.BatchMaxConcurrent)

	var rateLimiter *app.RedisSubmissionRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisSubmissionRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers and webhook intake.
	payoutHandlers := api.NewPayoutHandlers(payoutService, rateLimiter, cfg.PayoutRateLimitPerMinute)
	webhookHandler := api.NewTransferWebhookHandler(producer, cfg.WiseWebhookSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/payouts", api.PayoutRoutes(payoutHandlers, webhookHandler, cfg.JWKSURL, cfg.InternalAPIKey))

	// Wire up the status consumer: bind to transfer status events published by
	// the webhook intake.
	statusConsumer := app.NewTransferStatusConsumer(repository, producer)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	statusBindings := map[string]func([]byte) bool{
		"transfer.status.*": statusConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.PayoutEventsExchange, cfg.TransferStatusQueue, statusBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"status consumer start failed\" err=%v", err)
	}

	// Schedule the reconciliation poller for transfers whose webhooks were
	// lost or delayed.
	statusPoller := app.NewStatusPoller(repository, providerClient, producer, cfg.StatusPollBatchSize)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.StatusPollCron, statusPoller.Poll); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"poller schedule invalid\" cron=%q err=%v", cfg.StatusPollCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("level=info component=bootstrap msg=\"status poller scheduled\" cron=%q", cfg.StatusPollCron)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
