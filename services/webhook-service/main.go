package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
	ddbpkg "github.com/yashrajoria/payment-sync/pkg/dynamodb"
	"github.com/yashrajoria/payment-sync/pkg/kafka"
	"github.com/yashrajoria/payment-sync/services/common/auth"
	apperrors "github.com/yashrajoria/payment-sync/services/common/errors"
	"github.com/yashrajoria/payment-sync/services/common/logger"
	commonmw "github.com/yashrajoria/payment-sync/services/common/middleware"
	"github.com/yashrajoria/payment-sync/services/webhook-service/config"
	"github.com/yashrajoria/payment-sync/services/webhook-service/controllers"
	"github.com/yashrajoria/payment-sync/services/webhook-service/database"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"github.com/yashrajoria/payment-sync/services/webhook-service/repository"
	"github.com/yashrajoria/payment-sync/services/webhook-service/routes"
	"github.com/yashrajoria/payment-sync/services/webhook-service/services"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "webhook-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	log := initLogger(cfg.Env)
	defer log.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)
	if awsErr != nil {
		log.Warn("AWS config load failed, AWS backed features disabled", zap.Error(awsErr))
	}

	metricsClient, err := aws_pkg.NewMetricsClient(ctx)
	if err != nil {
		log.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, awsCfg, awsErr, redisClient, log)
	if err != nil {
		log.Fatal("Ledger init failed", zap.String("backend", cfg.LedgerBackend), zap.Error(err))
	}
	defer closeLedger()
	log.Info("Ledger ready", zap.String("backend", cfg.LedgerBackend))

	var secrets aws_pkg.SecretGetter = aws_pkg.StaticSecret(cfg.WebhookSecret)
	if cfg.UseSecrets && awsErr == nil {
		secrets = aws_pkg.NewSecretsClient(awsCfg)
	} else if cfg.WebhookSecret == "" {
		log.Warn("No webhook secret configured, deliveries will be accepted unverified")
	}
	verifier := services.NewSignatureVerifier(secrets, cfg.WebhookSecretName, log)

	keyMode := services.ParseKeyMode(cfg.IdempotencyKeyMode)
	if keyMode == services.KeyModeTimestamped {
		log.Warn("Timestamped idempotency keys do not deduplicate provider retries")
	}

	events, closePublisher := newEventPublisher(cfg, awsCfg, awsErr, log)
	defer closePublisher()

	reconciler := services.NewReconcileClient(cfg.ReconcileURL, cfg.ReconcileToken, cfg.ReconcileTimeout)

	webhookService := services.NewWebhookService(ledger, reconciler, verifier, events, metricsClient, services.WebhookServiceConfig{
		KeyMode:          keyMode,
		ReconcileTimeout: cfg.ReconcileTimeout,
	}, log)
	syncService := services.NewSyncService(reconciler, events, metricsClient, cfg.ReconcileTimeout, log)

	if cfg.ChangeQueueURL != "" && awsErr == nil {
		relay := services.NewChangeRelay(aws_pkg.NewSQSConsumer(awsCfg, cfg.ChangeQueueURL, log), redisClient, metricsClient, log)
		go func() {
			if err := relay.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("Change relay stopped", zap.Error(err))
			}
		}()
		log.Info("Change relay started", zap.String("queue", cfg.ChangeQueueURL))
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(log))
	r.Use(commonmw.MetricsMiddleware(metricsClient, serviceName))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, routes.Controllers{
		Webhook: controllers.NewWebhookController(webhookService, log),
		Sync:    controllers.NewSyncController(syncService),
		Ledger:  controllers.NewLedgerController(ledger, log),
	}, routes.Options{
		TokenValidator: auth.NewTokenValidator(cfg.JWTSecret),
		SyncLimiter:    commonmw.NewRateLimiter(rate.Limit(cfg.SyncRateLimit), cfg.SyncRateBurst, 10*time.Minute),
		AdminToken:     cfg.AdminToken,
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ledger": cfg.LedgerBackend})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Webhook Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Webhook Service...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Webhook Service stopped gracefully")
}

func initLogger(env string) *zap.Logger {
	cwLogs, cwErr := aws_pkg.NewCloudWatchLogsClient(context.Background(), serviceName)
	if cwErr == nil && cwLogs.IsEnabled() {
		if l, err := logger.InitializeWithWriter(env, cwLogs); err == nil {
			return l
		}
	}
	l, err := logger.Initialize(env)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	if cwErr != nil {
		l.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(cwErr))
	}
	return l
}

// openLedger builds the configured ledger backend and returns a closer for
// whatever resources it holds.
func openLedger(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, awsErr error, redisClient *redis.Client, log *zap.Logger) (repository.Ledger, func(), error) {
	noop := func() {}

	switch cfg.LedgerBackend {
	case config.LedgerDynamoDB:
		if awsErr != nil {
			return nil, noop, awsErr
		}
		client := ddbpkg.NewClientFromConfig(awsCfg)
		if err := ddbpkg.EnsureTable(ctx, client, cfg.DynamoLedgerTable, "event_id"); err != nil {
			return nil, noop, err
		}
		return repository.NewDynamoLedger(client, cfg.DynamoLedgerTable), noop, nil

	case config.LedgerRedis:
		return repository.NewRedisLedger(redisClient, cfg.RedisLedgerTTL), noop, nil

	case config.LedgerBolt:
		bl, err := repository.OpenBoltLedger(cfg.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return bl, func() {
			if err := bl.Close(); err != nil {
				log.Warn("Bolt ledger close failed", zap.Error(err))
			}
		}, nil

	default:
		db, err := database.ConnectPostgres(ctx, cfg.PostgresDSN(), database.PostgresOptions{}, log, &models.LedgerEntry{})
		if err != nil {
			return nil, noop, err
		}
		return repository.NewGormLedger(db), func() {
			if err := database.Close(db); err != nil {
				log.Warn("Postgres close failed", zap.Error(err))
			}
		}, nil
	}
}

func newEventPublisher(cfg *config.Config, awsCfg sdkaws.Config, awsErr error, log *zap.Logger) (*services.PaymentEventPublisher, func()) {
	switch cfg.EventPublisher {
	case config.PublisherSNS:
		if awsErr != nil {
			log.Warn("SNS publisher disabled, AWS config unavailable", zap.Error(awsErr))
			return nil, func() {}
		}
		return services.NewPaymentEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.PaymentSNSTopicARN), func() {}
	case config.PublisherKafka:
		producer := kafka.NewProducer(cfg.KafkaBrokers, log)
		return services.NewPaymentEventPublisher(producer, cfg.KafkaPaymentTopic), func() {
			if err := producer.Close(); err != nil {
				log.Warn("Kafka producer close failed", zap.Error(err))
			}
		}
	default:
		return nil, func() {}
	}
}
