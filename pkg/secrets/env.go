package secrets

import (
	"context"
	"os"
	"strings"
)

// DefaultEnvPrefix is the environment variable prefix for the env backend.
const DefaultEnvPrefix = "BEAT_FLEET_SECRET_"

// EnvProvider reads secrets from environment variables. A secret named
// "redis-password" resolves to BEAT_FLEET_SECRET_REDIS_PASSWORD.
type EnvProvider struct {
	prefix string
}

// Verify EnvProvider implements Provider.
var _ Provider = (*EnvProvider)(nil)

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

// Lookup resolves a named secret from the environment.
func (p *EnvProvider) Lookup(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(p.envKey(name))
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (p *EnvProvider) envKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, ".", "_")
	return p.prefix + key
}
