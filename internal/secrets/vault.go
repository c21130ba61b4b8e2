// Package secrets loads sensitive settings from HashiCorp Vault.
package secrets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultClient reads secrets over the Vault HTTP API
type VaultClient struct {
	client *api.Client
}

func NewVaultClient(address, token string) (*VaultClient, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultClient{client: client}, nil
}

// GetSecret returns the data at path. KV v2 responses are unwrapped from their "data" envelope.
func (v *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret data found at %s", path)
	}

	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		return nested, nil
	}
	return secret.Data, nil
}

// WebhookSecret reads the gateway shared secret stored under the "webhook_secret" key
func (v *VaultClient) WebhookSecret(ctx context.Context, path string) (string, error) {
	data, err := v.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	secret, ok := data["webhook_secret"].(string)
	if !ok || secret == "" {
		return "", fmt.Errorf("webhook_secret missing at %s", path)
	}
	return secret, nil
}
