package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/config"
)

func TestDisabledClientServesSeededCredentials(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	c.Seed("kite", BrokerCredentials{APIKey: "key-1", AccessToken: "tok-1"})

	creds, err := c.Credentials(context.Background(), "kite")
	require.NoError(t, err)
	assert.Equal(t, "key-1", creds.APIKey)
	assert.Equal(t, "tok-1", creds.AccessToken)

	_, err = c.Credentials(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestDisabledClientRotatesTokenInMemory(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	c.Seed("kite", BrokerCredentials{APIKey: "key-1", AccessToken: "stale"})

	require.NoError(t, c.StoreAccessToken(context.Background(), "kite", "fresh"))

	creds, err := c.Credentials(context.Background(), "kite")
	require.NoError(t, err)
	assert.Equal(t, "key-1", creds.APIKey)
	assert.Equal(t, "fresh", creds.AccessToken)
}

func TestInvalidateDropsCache(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	c.Seed("kite", BrokerCredentials{APIKey: "key-1"})
	c.Invalidate("kite")

	_, err = c.Credentials(context.Background(), "kite")
	assert.Error(t, err)
}

func TestHealthIsNoopWhenDisabled(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, c.Health(context.Background()))
}
