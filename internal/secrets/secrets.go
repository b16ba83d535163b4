// Package secrets overlays provider credentials from a secret store on top of
// the environment configuration.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Store interface {
	Fetch(ctx context.Context, name string) (string, error)
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore reads secrets from AWS Secrets Manager and caches them for ttl.
type AWSStore struct {
	client secretsManagerAPI
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSStoreWithConfig(cfg), nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return newAWSStore(secretsmanager.NewFromConfig(cfg))
}

func newAWSStore(client secretsManagerAPI) *AWSStore {
	return &AWSStore{
		client: client,
		ttl:    5 * time.Minute,
		cache:  make(map[string]cachedSecret),
	}
}

func (s *AWSStore) Fetch(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) Fetch(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *MemoryStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// Overlay fetches secret name, expected to be a flat JSON object such as
// {"OPENAI_API_KEY": "..."}, and writes every non-empty value whose key is in
// targets. It returns the keys that were applied. Values are never logged.
func Overlay(ctx context.Context, store Store, name string, targets map[string]*string) ([]string, error) {
	raw, err := store.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}

	var applied []string
	for key, dst := range targets {
		if v := values[key]; v != "" {
			*dst = v
			applied = append(applied, key)
		}
	}
	return applied, nil
}
