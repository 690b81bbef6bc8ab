package main

import (
	"context"
	"log"
	"time"

	"ringline/config"
	"ringline/internal/commands"
	"ringline/internal/events"
	"ringline/internal/handler"
	"ringline/internal/media"
	"ringline/internal/metrics"
	"ringline/internal/redis"
	"ringline/internal/repository"
	"ringline/internal/server"
	"ringline/internal/services"
	"ringline/internal/storage"
	"ringline/internal/websocket"
	"ringline/pkg/database"
	"ringline/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	appLogger := logger.New(mode)
	logger.SetGlobalLogger(appLogger)
	defer appLogger.Sync()

	database.Connect(cfg)
	defer database.Close()
	if err := database.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to migrate call tables: %v", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redis.Ping(context.Background(), redisClient); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	bus := events.NewRedisBus(redis.NewPublisher(redisClient), appLogger.Named("events"), m)

	callService := services.NewCallService(
		repository.NewCallRepository(database.DB),
		repository.NewUserRepository(database.DB),
		bus,
		media.NewIssuer(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitTokenTTL),
		appLogger.Named("calls"),
	).
		WithLimiter(redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
			CallLimit:  cfg.CallRateLimit,
			CallWindow: time.Minute,
		})).
		WithClaims(redis.NewCallClaims(redisClient, redis.DefaultClaimTTL)).
		WithMetrics(m)

	if cfg.AuditBucket != "" {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:    cfg.AWSRegion,
			Bucket:    cfg.AuditBucket,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			log.Fatalf("Failed to configure audit storage: %v", err)
		}
		callService.WithAuditor(services.NewAuditArchiver(s3Client, appLogger.Named("audit")))
	} else {
		appLogger.Warnf("AUDIT_BUCKET not set, call audit archive disabled")
	}

	commandBus := commands.NewBus().
		WithIdempotency(redis.NewIdempotencyStore(redisClient, redis.DefaultIdempotencyTTL), appLogger.Named("commands"))
	callService.RegisterHandlers(commandBus)

	authService := services.NewAuthService(cfg)

	hub := websocket.NewHub(m)
	go hub.Run(ctx)
	bridge := websocket.NewRedisBridge(redis.NewSubscriber(redisClient, appLogger.Named("subscriber")), hub)
	go bridge.Run(ctx)

	reaper := services.NewRingReaper(callService, cfg.RingTimeout, cfg.ReaperGrace, cfg.ReaperSchedule, m, appLogger.Named("reaper"))
	if err := reaper.Start(); err != nil {
		log.Fatalf("Failed to start ring reaper: %v", err)
	}
	defer reaper.Stop()

	srv := server.New(cfg, appLogger)
	srv.SetupRoutes(&server.Handlers{
		Calls:   handler.NewCallHandler(commandBus, callService),
		Gateway: websocket.NewHandler(authService, hub, websocket.NewRelayAuthorizer(callService), bus, appLogger.Named("gateway")),
	}, authService, m, map[string]server.HealthCheck{
		"database": func(context.Context) error { return database.HealthCheck() },
		"redis":    func(ctx context.Context) error { return redis.Ping(ctx, redisClient) },
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
