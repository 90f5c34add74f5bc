package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration.
type VaultConfig struct {
	Enabled    bool   // Enable Vault integration
	Address    string // Vault server address (e.g., "https://vault.example.com:8200")
	Token      string // Vault authentication token
	MountPath  string // Secrets mount path (default: "secret")
	SecretPath string // Base path for decisioncore secrets (e.g., "decisioncore/production")
	Namespace  string // Vault namespace (for Vault Enterprise)
}

// GetVaultConfigFromEnv reads Vault settings from the environment. Vault is
// opt-in: without VAULT_ADDR the process runs on environment-variable secrets.
func GetVaultConfigFromEnv() VaultConfig {
	addr := os.Getenv("VAULT_ADDR")
	return VaultConfig{
		Enabled:    addr != "",
		Address:    addr,
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "decisioncore"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

// VaultClient wraps the HashiCorp Vault client for secrets management.
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a token-authenticated Vault client.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from Vault. path is relative to the configured
// SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under a "data" key.
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault.
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found or not a string at path: %s", key, path)
	}

	return value, nil
}

// LoadSecretsFromVault resolves the runtime secrets out of Vault into the
// configuration. Each group degrades independently: a missing Vault entry
// leaves the environment-sourced value in place with a warning.
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Info().Msg("Vault integration disabled, using environment variables for secrets")
		applyEnvSecrets(cfg)
		return nil
	}

	vaultClient, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if password, err := vaultClient.GetSecretString(ctx, "database", "password"); err != nil {
		log.Warn().Err(err).Msg("Database password not found in Vault")
	} else {
		cfg.Database.Password = password
	}

	if password, err := vaultClient.GetSecretString(ctx, "redis", "password"); err != nil {
		log.Debug().Err(err).Msg("Redis password not found in Vault")
	} else {
		cfg.Redis.Password = password
	}

	if apiKey, err := vaultClient.GetSecretString(ctx, "strategist", "api_key"); err != nil {
		log.Warn().Err(err).Msg("Strategist API key not found in Vault")
	} else {
		cfg.Strategist.APIKey = apiKey
	}

	applyEnvSecrets(cfg)
	return nil
}

// applyEnvSecrets fills any secret still missing from its well-known
// environment variable.
func applyEnvSecrets(cfg *Config) {
	if cfg.Database.Password == "" {
		cfg.Database.Password = os.Getenv("DECISIONCORE_DATABASE_PASSWORD")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("DECISIONCORE_REDIS_PASSWORD")
	}
	if cfg.Strategist.APIKey == "" {
		cfg.Strategist.APIKey = os.Getenv("DECISIONCORE_STRATEGIST_API_KEY")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
