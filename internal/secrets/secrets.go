// Package secrets resolves secret values from AWS Secrets Manager or the
// environment and caches them for the life of the process.
package secrets

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// Resolver returns the value of a named secret.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// API is the subset of the Secrets Manager client used here.
type API interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Manager resolves secrets by ARN or name from Secrets Manager.
type Manager struct {
	client API
}

// NewManager loads the default AWS configuration.
func NewManager(ctx context.Context, region string) (*Manager, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewConfigError("secrets", "load aws config", err)
	}
	return NewManagerFromClient(secretsmanager.NewFromConfig(awsCfg)), nil
}

// NewManagerFromClient wraps an existing client.
func NewManagerFromClient(client API) *Manager {
	return &Manager{client: client}
}

// Resolve implements Resolver.
func (m *Manager) Resolve(ctx context.Context, name string) (string, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return "", errors.WrapResource("get", "secret", name, err)
	}
	if out.SecretString == nil {
		return "", errors.NewNotFoundError("secret string", name)
	}
	return *out.SecretString, nil
}

// Env resolves secrets from environment variables. The name is upper-cased
// and dashes become underscores.
type Env struct {
	Lookup func(string) (string, bool)
}

// Resolve implements Resolver.
func (e Env) Resolve(_ context.Context, name string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v, ok := lookup(key)
	if !ok || v == "" {
		return "", errors.NewNotFoundError("secret", key)
	}
	return v, nil
}

// Cache memoizes successful resolutions. Failures are not cached.
type Cache struct {
	next Resolver

	mu     sync.Mutex
	values map[string]string
}

// NewCache wraps next with a process-lifetime cache.
func NewCache(next Resolver) *Cache {
	return &Cache{next: next, values: make(map[string]string)}
}

// Resolve implements Resolver.
func (c *Cache) Resolve(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[name]; ok {
		return v, nil
	}
	v, err := c.next.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	logging.FromContext(ctx).Debug().Str("secret", name).Msg("Secret resolved")
	c.values[name] = v
	return v, nil
}

// Static resolves a fixed set of values.
type Static map[string]string

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errors.NewNotFoundError("secret", name)
	}
	return v, nil
}
