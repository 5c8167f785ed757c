package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terry-lonesski/laravel-echo-server/internal/adapters/kafka"
	"github.com/terry-lonesski/laravel-echo-server/internal/api/routes"
	"github.com/terry-lonesski/laravel-echo-server/internal/channel"
	"github.com/terry-lonesski/laravel-echo-server/internal/config"
	"github.com/terry-lonesski/laravel-echo-server/internal/database"
	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/internal/repository"
	"github.com/terry-lonesski/laravel-echo-server/internal/services"
	"github.com/terry-lonesski/laravel-echo-server/internal/subscriber"
	"github.com/terry-lonesski/laravel-echo-server/internal/websocket"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLog := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		DevMode: cfg.Log.DevMode,
	})
	appLog.Info("Starting echo server", "driver", cfg.Database.Driver, "authEndpoint", cfg.Auth.URL())

	m := metrics.New(cfg.API.MetricsNamespace)

	// Redis backs the redis store, the broadcast subscriber and rate limiting
	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = database.NewRedisConnection(cfg.Redis, appLog)
		if err != nil {
			appLog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	store, err := openStore(cfg, redisClient, appLog)
	if err != nil {
		appLog.Error("Failed to open membership store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	classifier, err := channel.NewClassifier(cfg.Channels.PrivatePatterns, cfg.Channels.ClientEventPatterns)
	if err != nil {
		appLog.Error("Invalid channel patterns", "error", err)
		os.Exit(1)
	}

	// Lifecycle sinks
	var (
		notifiers     channel.MultiNotifier
		webhook       *channel.WebhookNotifier
		kafkaNotifier *kafka.Notifier
	)
	if cfg.Webhook.Enabled() {
		webhook = channel.NewWebhookNotifier(cfg.Webhook.URL(), cfg.Webhook.Timeout, appLog.With("component", "webhook"), m)
		notifiers = append(notifiers, webhook)
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.LifecycleTopic != "" {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			appLog.Error("Failed to create Kafka producer, lifecycle events stay local", "error", err)
		} else {
			kafkaNotifier = kafka.NewNotifier(producer, cfg.Kafka.LifecycleTopic, appLog.With("component", "kafka"), m)
			notifiers = append(notifiers, kafkaNotifier)
		}
	}

	hub := websocket.NewHub(appLog.With("component", "websocket"), m)
	opts := channel.CoordinatorOptions{
		Classifier: classifier,
		Authorizer: channel.NewAuthorizer(cfg.Auth.URL(), cfg.Auth.Timeout, appLog.With("component", "auth")),
		Store:      store,
		Rooms:      hub,
		Logger:     appLog.With("component", "coordinator"),
		Metrics:    m,
	}
	if len(notifiers) > 0 {
		opts.Notifier = notifiers
	}
	coord := channel.NewCoordinator(opts)

	// Backend broadcasts
	subCtx, stopSubscribers := context.WithCancel(context.Background())
	defer stopSubscribers()

	if redisClient != nil && cfg.Redis.Subscribe {
		sub := subscriber.NewRedisSubscriber(redisClient, cfg.Redis.KeyPrefix, coord, appLog.With("component", "redis-subscriber"))
		go func() {
			if err := sub.Run(subCtx); err != nil {
				appLog.Error("Redis subscriber stopped", "error", err)
			}
		}()
	}

	var kafkaSub *subscriber.KafkaSubscriber
	if cfg.Kafka.Enabled() && cfg.Kafka.BroadcastTopic != "" {
		kafkaSub = subscriber.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.BroadcastTopic, cfg.Kafka.GroupID,
			coord, appLog.With("component", "kafka-subscriber"))
		go func() {
			if err := kafkaSub.Run(subCtx); err != nil {
				appLog.Error("Kafka subscriber stopped", "error", err)
			}
		}()
	}

	routerOpts := routes.RouterOptions{
		Hub:            hub,
		Coordinator:    coord,
		Upgrader:       websocket.NewUpgrader(cfg.Server.AllowedOrigins, cfg.Log.DevMode),
		Metrics:        m,
		WSRateLimit:    cfg.API.WSRateLimit,
		JWTSecret:      cfg.API.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DevMode:        cfg.Log.DevMode,
		Logger:         appLog.With("component", "http"),
	}
	if redisClient != nil {
		routerOpts.RateLimiter = services.NewRedisRateLimiter(redisClient, cfg.Redis.KeyPrefix)
	}
	router := routes.NewRouter(routerOpts)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		appLog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopSubscribers()
	if kafkaSub != nil {
		kafkaSub.Close()
	}

	// Disconnecting clients runs their leave path before the sinks are flushed
	hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		appLog.Error("Server forced to shutdown", "error", err)
	}
	waitForClients(ctx, hub)

	if webhook != nil {
		webhook.Wait()
	}
	if kafkaNotifier != nil {
		kafkaNotifier.Close()
	}

	appLog.Info("Server stopped")
}

func needsRedis(cfg *config.Config) bool {
	if cfg.Database.Driver == config.DriverRedis || cfg.API.WSRateLimit > 0 {
		return true
	}
	return cfg.Redis.Subscribe && cfg.Database.Driver != config.DriverMemory
}

func openStore(cfg *config.Config, redisClient *redis.Client, log *logger.Logger) (repository.KeyValueRepository, error) {
	switch cfg.Database.Driver {
	case config.DriverRedis:
		return repository.NewRedisKVRepository(redisClient, cfg.Redis.KeyPrefix), nil
	case config.DriverPostgres, config.DriverMySQL:
		db, err := database.NewSQLConnection(cfg.Database.Driver, cfg.Database.URI, cfg.Log.DevMode)
		if err != nil {
			return nil, err
		}
		if err := repository.MigrateSQL(db); err != nil {
			return nil, err
		}
		log.Info("SQL membership store ready", "driver", cfg.Database.Driver)
		return repository.NewSQLKVRepository(db), nil
	default:
		log.Warn("Using in-memory membership store, presence state is not shared between instances")
		return repository.NewMemoryKVRepository(), nil
	}
}

// waitForClients gives disconnecting clients time to finish their leave path.
func waitForClients(ctx context.Context, hub *websocket.Hub) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for hub.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
