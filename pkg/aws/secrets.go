package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretGetter is the read side of a secret store. The webhook signature
// verifier depends on this rather than on Secrets Manager directly.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// DefaultSecretTTL bounds how long a rotated secret keeps being served.
const DefaultSecretTTL = 5 * time.Minute

type cachedSecret struct {
	value   string
	fetched time.Time
}

// SecretsClient reads Secrets Manager string secrets through a TTL cache.
type SecretsClient struct {
	api secretsAPI
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg), DefaultSecretTTL)
}

func newSecretsClient(api secretsAPI, ttl time.Duration) *SecretsClient {
	return &SecretsClient{api: api, ttl: ttl, now: time.Now, cache: make(map[string]cachedSecret)}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := s.cached(name); ok {
		return v, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: *out.SecretString, fetched: s.now()}
	s.mu.Unlock()
	return *out.SecretString, nil
}

func (s *SecretsClient) cached(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[name]
	if !ok || s.now().Sub(c.fetched) >= s.ttl {
		return "", false
	}
	return c.value, true
}

// StaticSecret serves a single secret value from configuration. An empty
// value reports an error, matching a missing Secrets Manager entry.
type StaticSecret string

func (s StaticSecret) GetSecret(_ context.Context, name string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("secret %s is not configured", name)
	}
	return string(s), nil
}
