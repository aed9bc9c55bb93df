// Package vault reads broker credentials from HashiCorp Vault KV v2.
// Zerodha access tokens expire daily, so the provider re-reads them here
// instead of baking them into the environment.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"arise-trading-engine/config"
)

// BrokerCredentials is one broker's API key pair.
type BrokerCredentials struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// Client wraps the Vault API client. When Vault is disabled it degrades to
// an in-memory store seeded from the environment config, so local runs work
// without a Vault server.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig

	mu    sync.RWMutex
	cache map[string]BrokerCredentials
}

func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		cache: make(map[string]BrokerCredentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// Enabled reports whether a real Vault backend is configured.
func (c *Client) Enabled() bool { return c.cfg.Enabled }

// Seed loads credentials into the local cache. Used when Vault is disabled
// to carry environment-sourced keys through the same interface.
func (c *Client) Seed(broker string, creds BrokerCredentials) {
	c.mu.Lock()
	c.cache[broker] = creds
	c.mu.Unlock()
}

// Credentials returns the key pair for a broker, cache first.
func (c *Client) Credentials(ctx context.Context, broker string) (BrokerCredentials, error) {
	c.mu.RLock()
	if creds, ok := c.cache[broker]; ok {
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return BrokerCredentials{}, fmt.Errorf("no credentials for %s and vault is disabled", broker)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.dataPath(broker))
	if err != nil {
		return BrokerCredentials{}, fmt.Errorf("read %s credentials: %w", broker, err)
	}
	if secret == nil || secret.Data == nil {
		return BrokerCredentials{}, fmt.Errorf("no credentials stored for %s", broker)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return BrokerCredentials{}, fmt.Errorf("unexpected secret format for %s", broker)
	}

	creds := BrokerCredentials{
		APIKey:      stringField(data, "api_key"),
		AccessToken: stringField(data, "access_token"),
	}
	c.mu.Lock()
	c.cache[broker] = creds
	c.mu.Unlock()
	return creds, nil
}

// StoreAccessToken rotates the session token for a broker. The daily Kite
// login flow writes the fresh token here.
func (c *Client) StoreAccessToken(ctx context.Context, broker, accessToken string) error {
	c.mu.Lock()
	creds := c.cache[broker]
	creds.AccessToken = accessToken
	c.cache[broker] = creds
	c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":      creds.APIKey,
			"access_token": accessToken,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.dataPath(broker), payload); err != nil {
		return fmt.Errorf("store %s access token: %w", broker, err)
	}
	return nil
}

// Invalidate drops the cached credentials so the next read hits Vault.
func (c *Client) Invalidate(broker string) {
	c.mu.Lock()
	delete(c.cache, broker)
	c.mu.Unlock()
}

// Health checks that Vault is reachable and unsealed.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) dataPath(broker string) string {
	mount := c.cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return fmt.Sprintf("%s/data/brokers/%s", mount, broker)
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
