package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	aws_pkg "github.com/yashrajoria/payment-sync/pkg/aws"
)

const (
	LedgerPostgres = "postgres"
	LedgerDynamoDB = "dynamodb"
	LedgerRedis    = "redis"
	LedgerBolt     = "bolt"

	PublisherSNS   = "sns"
	PublisherKafka = "kafka"
	PublisherNone  = "none"
)

type Config struct {
	Port          string
	Env           string
	LedgerBackend string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	DynamoLedgerTable string
	RedisURL          string
	RedisLedgerTTL    time.Duration
	BoltPath          string

	UseSecrets        bool
	WebhookSecret     string
	WebhookSecretName string

	ReconcileURL       string
	ReconcileToken     string
	ReconcileTimeout   time.Duration
	IdempotencyKeyMode string

	EventPublisher     string
	PaymentSNSTopicARN string
	KafkaBrokers       []string
	KafkaPaymentTopic  string

	ChangeQueueURL string
	AdminToken     string
	JWTSecret      string
	AllowedOrigins string
	SyncRateLimit  float64
	SyncRateBurst  int
}

// LoadConfig reads configuration from the environment (and an optional .env
// file) with an optional Secrets Manager override.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8095"),
		Env:                getEnv("APP_ENV", "development"),
		LedgerBackend:      strings.ToLower(getEnv("LEDGER_BACKEND", LedgerPostgres)),
		PostgresUser:       os.Getenv("POSTGRES_USER"),
		PostgresPassword:   os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:         os.Getenv("POSTGRES_DB"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:    getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone:   getEnv("POSTGRES_TIMEZONE", "UTC"),
		DynamoLedgerTable:  getEnv("DYNAMODB_LEDGER_TABLE", "webhook_ledger"),
		RedisURL:           os.Getenv("REDIS_URL"),
		RedisLedgerTTL:     getDuration("REDIS_LEDGER_TTL", 0),
		BoltPath:           getEnv("BOLT_PATH", "webhook_ledger.db"),
		UseSecrets:         os.Getenv("AWS_USE_SECRETS") == "true",
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		WebhookSecretName:  getEnv("WEBHOOK_SECRET_NAME", "payments/WEBHOOK_SECRET"),
		ReconcileURL:       os.Getenv("RECONCILE_URL"),
		ReconcileToken:     os.Getenv("RECONCILE_TOKEN"),
		ReconcileTimeout:   getDuration("RECONCILE_TIMEOUT", 20*time.Second),
		IdempotencyKeyMode: getEnv("IDEMPOTENCY_KEY_MODE", "strengthened"),
		EventPublisher:     strings.ToLower(getEnv("EVENT_PUBLISHER", PublisherNone)),
		PaymentSNSTopicARN: os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPaymentTopic:  getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		ChangeQueueURL:     os.Getenv("CHANGE_QUEUE_URL"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		SyncRateLimit:      getFloat("SYNC_RATE_LIMIT", 1),
		SyncRateBurst:      getInt("SYNC_RATE_BURST", 5),
	}

	if cfg.UseSecrets {
		if awsCfg, err := aws_pkg.LoadAWSConfig(context.Background()); err == nil {
			applySecrets(context.Background(), cfg, aws_pkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overrides DB credentials and the JWT secret from the secret
// store. The webhook secret itself is resolved per request by the verifier.
func applySecrets(ctx context.Context, cfg *Config, sm aws_pkg.SecretGetter) {
	if dbjson, err := sm.GetSecret(ctx, "payments/DB_CREDENTIALS"); err == nil && dbjson != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(dbjson), &m); err == nil {
			override(&cfg.PostgresUser, m["POSTGRES_USER"])
			override(&cfg.PostgresPassword, m["POSTGRES_PASSWORD"])
			override(&cfg.PostgresDB, m["POSTGRES_DB"])
			override(&cfg.PostgresHost, m["POSTGRES_HOST"])
			override(&cfg.PostgresPort, m["POSTGRES_PORT"])
		}
	}
	if v, err := sm.GetSecret(ctx, "payments/JWT_SECRET"); err == nil {
		override(&cfg.JWTSecret, v)
	}
	if v, err := sm.GetSecret(ctx, "payments/ADMIN_TOKEN"); err == nil {
		override(&cfg.AdminToken, v)
	}
}

func (c *Config) Validate() error {
	if c.ReconcileURL == "" {
		return fmt.Errorf("RECONCILE_URL is required")
	}
	switch c.LedgerBackend {
	case LedgerPostgres:
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" {
			return fmt.Errorf("database config incomplete")
		}
	case LedgerDynamoDB:
		if c.DynamoLedgerTable == "" {
			return fmt.Errorf("DYNAMODB_LEDGER_TABLE is required")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis ledger")
		}
	case LedgerBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	switch c.EventPublisher {
	case PublisherNone:
	case PublisherSNS:
		if c.PaymentSNSTopicARN == "" {
			return fmt.Errorf("PAYMENT_SNS_TOPIC_ARN is required for the sns publisher")
		}
	case PublisherKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka publisher")
		}
	default:
		return fmt.Errorf("unknown EVENT_PUBLISHER %q", c.EventPublisher)
	}

	if c.ChangeQueueURL != "" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when CHANGE_QUEUE_URL is set")
	}
	return nil
}

// PostgresDSN builds the connection string for gorm.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
