package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env              string
	RedisURL         string
	WalletAPIURL     string
	PaymentSyncURL   string
	AccessToken      string
	SubscribeTimeout time.Duration
	HealthInterval   time.Duration
}

// LoadConfig reads the agent configuration from the environment and an
// optional .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		WalletAPIURL:     os.Getenv("WALLET_API_URL"),
		PaymentSyncURL:   getEnv("PAYMENT_SYNC_URL", "http://localhost:8095"),
		AccessToken:      os.Getenv("ACCESS_TOKEN"),
		SubscribeTimeout: getDuration("SUBSCRIBE_TIMEOUT", 10*time.Second),
		HealthInterval:   getDuration("HEALTH_INTERVAL", 60*time.Second),
	}
	if cfg.HealthInterval <= 0 {
		return nil, fmt.Errorf("HEALTH_INTERVAL must be positive")
	}
	return cfg, nil
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
