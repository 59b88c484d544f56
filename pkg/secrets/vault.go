package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
)

// Default Vault paths.
const (
	DefaultVaultKVMount = "secret"
	DefaultVaultPath    = "beat-fleet"
)

// VaultConfig holds configuration for the Vault secrets backend.
type VaultConfig struct {
	Address   string // VAULT_ADDR
	Namespace string // VAULT_NAMESPACE (enterprise)
	Token     string // VAULT_TOKEN
	KVMount   string // KV mount path (default: "secret")
	KVVersion int    // 0=auto-detect, 1, 2
	BasePath  string // Base path for secrets (default: "beat-fleet")
}

// VaultProvider implements Provider using the HashiCorp Vault KV engine.
// Each secret lives at basePath/<name> with its value under the "value" key.
type VaultProvider struct {
	client    *api.Client
	kvMount   string
	basePath  string
	kvVersion int
}

// Verify VaultProvider implements Provider.
var _ Provider = (*VaultProvider)(nil)

// NewVaultProvider creates a Vault-backed secrets provider using token auth.
func NewVaultProvider(ctx context.Context, cfg VaultConfig) (*VaultProvider, error) {
	vaultCfg := api.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	// Set HTTP client timeout to prevent indefinite hangs
	vaultCfg.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("vault token is required")
	}

	provider := NewVaultProviderWithClient(client, cfg.KVMount, cfg.BasePath, cfg.KVVersion)

	// Auto-detect KV version if not specified
	if cfg.KVVersion == 0 {
		version, err := provider.detectKVVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to detect KV version: %w", err)
		}
		provider.kvVersion = version
	}

	return provider, nil
}

// NewVaultProviderWithClient creates a Vault provider with a pre-configured client (for testing).
func NewVaultProviderWithClient(client *api.Client, kvMount, basePath string, kvVersion int) *VaultProvider {
	if kvMount == "" {
		kvMount = DefaultVaultKVMount
	}
	if basePath == "" {
		basePath = DefaultVaultPath
	}
	if kvVersion == 0 {
		kvVersion = 2
	}
	return &VaultProvider{
		client:    client,
		kvMount:   kvMount,
		basePath:  basePath,
		kvVersion: kvVersion,
	}
}

// detectKVVersion determines whether the KV engine is v1 or v2.
func (p *VaultProvider) detectKVVersion(ctx context.Context) (int, error) {
	mounts, err := p.client.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list mounts for KV version detection: %w", err)
	}

	mountPath := p.kvMount + "/"
	mount, ok := mounts[mountPath]
	if !ok {
		return 0, fmt.Errorf("KV mount %q not found", p.kvMount)
	}

	if mount.Options != nil {
		if version, exists := mount.Options["version"]; exists {
			if version == "1" {
				return 1, nil
			}
		}
	}

	return 2, nil
}

func (p *VaultProvider) secretPath(name string) string {
	return p.kvMount + "/" + p.basePath + "/" + name
}

// Lookup reads a named secret from Vault.
func (p *VaultProvider) Lookup(ctx context.Context, name string) (string, error) {
	var data map[string]interface{}

	if p.kvVersion == 2 {
		secret, err := p.client.KVv2(p.kvMount).Get(ctx, p.basePath+"/"+name)
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("failed to read secret from Vault: %w", err)
		}
		if secret == nil || secret.Data == nil {
			return "", ErrNotFound
		}
		data = secret.Data
	} else {
		secret, err := p.client.Logical().ReadWithContext(ctx, p.secretPath(name))
		if err != nil {
			return "", fmt.Errorf("failed to read secret from Vault: %w", err)
		}
		if secret == nil || secret.Data == nil {
			return "", ErrNotFound
		}
		data = secret.Data
	}

	value, ok := data["value"].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s has no value key", name)
	}
	return value, nil
}
