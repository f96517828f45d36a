// Package config loads connector configuration, preferring a Vault KV v2
// secret (packages/go-core/config.SecretManager's pattern) and falling back
// to environment variables when Vault is not reachable — the Open Questions
// section of DESIGN.md records why this differs from the teacher's
// Vault-or-die startup behaviour.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/vault/api"
)

// Config is every externally supplied setting the connector needs to run
// both the provider and consumer sides of one or more DSP negotiations.
type Config struct {
	ServiceName string
	HTTPAddr    string

	PostgresDSN string
	RedisAddr   string
	NATSURL     string

	OTLPEndpoint string

	ParticipantID   string // our own connector id, used as assigner/assignee
	CallbackAddress string // our own base URL advertised to counterparties

	NotificationMaxAttempts int
	NotificationBaseBackoff time.Duration
	NotificationMaxBackoff  time.Duration

	SubscriptionSweepInterval time.Duration
}

// SecretManager wraps the Vault API client for reading secrets, mirroring
// packages/go-core/config.SecretManager.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at address, authenticated
// with token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)
	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at path and returns the raw data map.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads from a KV v2 backend and unwraps the inner "data" envelope.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// Load assembles a Config. It tries Vault first (VAULT_ADDR/VAULT_TOKEN/
// VAULT_SECRET_PATH); any failure to reach Vault or find the secret falls
// back to plain environment variables rather than aborting startup, since a
// standalone connector deployment (unlike the teacher's platform services)
// cannot assume a Vault cluster is always present.
func Load() (Config, error) {
	cfg := Config{
		ServiceName:               envOr("SERVICE_NAME", "rainbow-connector"),
		HTTPAddr:                  envOr("HTTP_ADDR", ":8080"),
		PostgresDSN:               envOr("PG_URL", ""),
		RedisAddr:                 envOr("REDIS_ADDR", "localhost:6379"),
		NATSURL:                   envOr("NATS_URL", "nats://localhost:4222"),
		OTLPEndpoint:              os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ParticipantID:             envOr("PARTICIPANT_ID", ""),
		CallbackAddress:           envOr("CALLBACK_ADDRESS", ""),
		NotificationMaxAttempts:   10,
		NotificationBaseBackoff:   time.Second,
		NotificationMaxBackoff:    5 * time.Minute,
		SubscriptionSweepInterval: time.Minute,
	}

	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		return cfg, nil
	}
	vaultToken := envOr("VAULT_TOKEN", "root")
	secretPath := envOr("VAULT_SECRET_PATH", "secret/data/arc/rainbow-connector")

	mgr, err := NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		return cfg, nil
	}
	secrets, err := mgr.GetKV2(secretPath)
	if err != nil {
		return cfg, nil
	}

	if v, ok := secrets["PG_URL"].(string); ok && v != "" {
		cfg.PostgresDSN = v
	}
	if v, ok := secrets["REDIS_ADDR"].(string); ok && v != "" {
		cfg.RedisAddr = v
	}
	if v, ok := secrets["NATS_URL"].(string); ok && v != "" {
		cfg.NATSURL = v
	}
	if v, ok := secrets["PARTICIPANT_ID"].(string); ok && v != "" {
		cfg.ParticipantID = v
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
