package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeVault(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		if r.URL.Path != "/v1/secret/data/payment-callbacks/webhook" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultClient_WebhookSecretKV2(t *testing.T) {
	srv := fakeVault(t, `{"data":{"data":{"webhook_secret":"whsec_from_vault"},"metadata":{"version":3}}}`)

	client, err := NewVaultClient(srv.URL, "test-token")
	require.NoError(t, err)

	secret, err := client.WebhookSecret(context.Background(), "secret/data/payment-callbacks/webhook")
	require.NoError(t, err)
	assert.Equal(t, "whsec_from_vault", secret)
}

func TestVaultClient_WebhookSecretKV1(t *testing.T) {
	srv := fakeVault(t, `{"data":{"webhook_secret":"whsec_v1"}}`)

	client, err := NewVaultClient(srv.URL, "test-token")
	require.NoError(t, err)

	secret, err := client.WebhookSecret(context.Background(), "secret/data/payment-callbacks/webhook")
	require.NoError(t, err)
	assert.Equal(t, "whsec_v1", secret)
}

func TestVaultClient_MissingKey(t *testing.T) {
	srv := fakeVault(t, `{"data":{"data":{"other":"x"}}}`)

	client, err := NewVaultClient(srv.URL, "test-token")
	require.NoError(t, err)

	_, err = client.WebhookSecret(context.Background(), "secret/data/payment-callbacks/webhook")
	assert.Error(t, err)
}

func TestVaultClient_NotFound(t *testing.T) {
	srv := fakeVault(t, `{}`)

	client, err := NewVaultClient(srv.URL, "test-token")
	require.NoError(t, err)

	_, err = client.GetSecret(context.Background(), "secret/data/missing")
	assert.Error(t, err)
}
