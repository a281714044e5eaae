package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("RECONCILE_URL", "http://reconciler.local/reconcile")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "payments")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, LedgerPostgres, cfg.LedgerBackend)
	assert.Equal(t, 20*time.Second, cfg.ReconcileTimeout)
	assert.Equal(t, PublisherNone, cfg.EventPublisher)
	assert.Equal(t, "strengthened", cfg.IdempotencyKeyMode)
	assert.Contains(t, cfg.PostgresDSN(), "dbname=payments")
}

func TestLoadConfig_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LEDGER_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RECONCILE_TIMEOUT", "5s")
	t.Setenv("EVENT_PUBLISHER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, LedgerRedis, cfg.LedgerBackend)
	assert.Equal(t, 5*time.Second, cfg.ReconcileTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ReconcileURL:   "http://r",
			LedgerBackend:  LedgerBolt,
			BoltPath:       "x.db",
			EventPublisher: PublisherNone,
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"no reconcile url":     func(c *Config) { c.ReconcileURL = "" },
		"unknown backend":      func(c *Config) { c.LedgerBackend = "mongo" },
		"postgres no creds":    func(c *Config) { c.LedgerBackend = LedgerPostgres },
		"redis no url":         func(c *Config) { c.LedgerBackend = LedgerRedis },
		"sns no topic":         func(c *Config) { c.EventPublisher = PublisherSNS },
		"kafka no brokers":     func(c *Config) { c.EventPublisher = PublisherKafka },
		"unknown publisher":    func(c *Config) { c.EventPublisher = "rabbit" },
		"relay without redis":  func(c *Config) { c.ChangeQueueURL = "https://sqs/q" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{PostgresUser: "env-user", PostgresHost: "env-host", JWTSecret: "env-jwt"}
	applySecrets(context.Background(), cfg, mapSecrets{
		"payments/DB_CREDENTIALS": `{"POSTGRES_USER":"sm-user","POSTGRES_PASSWORD":"sm-pass"}`,
		"payments/JWT_SECRET":     "sm-jwt",
	})

	assert.Equal(t, "sm-user", cfg.PostgresUser)
	assert.Equal(t, "sm-pass", cfg.PostgresPassword)
	assert.Equal(t, "env-host", cfg.PostgresHost)
	assert.Equal(t, "sm-jwt", cfg.JWTSecret)
	assert.Empty(t, cfg.AdminToken)
}
