/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration,
 * selects the backing store (PostgreSQL in live mode, JSON files in local mode),
 * connects the optional Redis and RabbitMQ collaborators, wires the application
 * service, the outbox dispatcher, the commission consumer and the scheduler, and
 * serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: change feed and rate limiting.
 * - github.com/joho/godotenv: .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/metrics: event transport and Prometheus metrics.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitnest/ledger-service/internal/api"
	"github.com/bitnest/ledger-service/internal/app"
	"github.com/bitnest/ledger-service/internal/config"
	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/bitnest/ledger-service/internal/feed"
	"github.com/bitnest/ledger-service/internal/identity"
	"github.com/bitnest/ledger-service/internal/ratelimit"
	"github.com/bitnest/ledger-service/internal/store"
	"github.com/bitnest/ledger-service/pkg/metrics"
	"github.com/bitnest/ledger-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// markerStore is what both limiter implementations provide.
type markerStore interface {
	identity.Markers
	app.Markers
}

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" mode=%s port=%s", cfg.Mode, cfg.ServerPort)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	metricsCollector := metrics.NewMetricsCollector(logger)

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	var repository store.Repository
	switch cfg.Mode {
	case config.ModeLive:
		dbpool := connectPostgres(rootCtx, cfg.DatabaseURL)
		defer dbpool.Close()
		pgRepo := store.NewPostgresRepository(dbpool)
		if err := pgRepo.EnsureSchema(rootCtx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		repository = pgRepo
	default:
		localRepo, err := store.NewLocalRepository(cfg.LocalDataDir)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"local store init failed\" dir=%s err=%v", cfg.LocalDataDir, err)
		}
		log.Printf("level=info component=bootstrap msg=\"local store ready\" dir=%s", cfg.LocalDataDir)
		repository = localRepo
	}

	var broker feed.Broker = feed.NewMemoryBroker()
	var markers markerStore = ratelimit.NewMemoryLimiter()
	if cfg.Mode == config.ModeLive {
		if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			broker = feed.NewRedisBroker(redisClient, cfg.RedisKeyPrefix)
			markers = ratelimit.NewRedisLimiter(redisClient, cfg.RedisKeyPrefix)
		}
	}

	provider := identity.NewProvider(repository, markers, identity.Options{
		Secret:               cfg.JWTSecret,
		SessionTTL:           time.Duration(cfg.JWTTTLMinutes) * time.Minute,
		ResetTTL:             time.Duration(cfg.PasswordResetTTLMinutes) * time.Minute,
		SignInLimitPerMinute: cfg.SignInRateLimitPerMinute,
		Exchange:             cfg.EventExchange,
	})
	provider.OnCurrentUserChanged(func(change identity.UserChange) {
		log.Printf("level=info component=identity msg=\"current user changed\" kind=%s account_id=%s", change.Kind, change.AccountID)
	})

	ledgerService := app.NewService(repository, broker, provider, markers, app.Options{
		Rules:         cfg.Rules(),
		Exchange:      cfg.EventExchange,
		AdminEmail:    cfg.AdminEmail,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	ledgerService.SetPayoutRecorder(metricsCollector)

	var dial app.DialFunc
	if cfg.Mode == config.ModeLive && cfg.RabbitMQURL != "" {
		dial = func() (rabbitmq.Publisher, error) {
			return rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		}

		rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; commission intents applied in-process\" err=%v", err)
			dial = nil
		} else {
			defer rabbitConsumer.Close()
			commissionConsumer := app.NewCommissionConsumer(ledgerService)
			bindings := map[string]rabbitmq.Handler{
				domain.RoutingKeyCommissionIntent: commissionConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.CommissionQueue, 10, bindings); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"commission consumer start failed; commission intents applied in-process\" err=%v", err)
				dial = nil
			} else {
				log.Printf("level=info component=bootstrap msg=\"commission consumer started\" queue=%s", cfg.CommissionQueue)
			}
		}
	} else {
		log.Println("level=info component=bootstrap msg=\"no message broker configured; commission intents applied in-process\"")
	}

	dispatcher := app.NewOutboxDispatcher(
		repository,
		dial,
		ledgerService,
		cfg.OutboxBatchSize,
		time.Duration(cfg.OutboxPollIntervalMS)*time.Millisecond,
	)
	dispatcher.SetRecorder(metricsCollector)
	go dispatcher.Run(rootCtx)

	jobs := app.NewJobs(repository, metricsCollector, logger, cfg.EventExchange)
	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		MaturedLoops: cfg.MaturedLoopSchedule,
		LedgerTotals: cfg.LedgerTotalsSchedule,
	})
	scheduler.Start()

	handlers := api.NewHandlers(ledgerService, provider, broker)
	router := api.NewRouter(handlers, metricsCollector, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
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
	<-scheduler.Stop().Done()
	stopRoot()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func connectPostgres(ctx context.Context, databaseURL string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return dbpool
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// service then keeps its change feed and limiters in-process.
func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; change feed and rate limits are in-process\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; change feed and rate limits are in-process\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; change feed and rate limits are in-process\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
