package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/config"
	"meshrelay/internal/relay"
	"meshrelay/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		NodeName:          "test-relay",
		ListenAddr:        "127.0.0.1:0",
		DiscoveryInterval: time.Hour,
		DefaultTTL:        7,
		CacheSize:         128,
		CacheWindow:       time.Minute,
		HistorySize:       10,
		SendQueue:         8,
		LogFormat:         "json",
	}
}

func TestNewProvisionsDefaultAndStoredChannels(t *testing.T) {
	ctx := context.Background()
	storePath := filepath.Join(t.TempDir(), "channels.db")
	store, err := storage.OpenBolt(storePath)
	require.NoError(t, err)
	require.NoError(t, store.SaveChannel(ctx, storage.ChannelRecord{Name: "#bar", Owner: "ops", MessageRetention: true}))
	require.NoError(t, store.SaveChannel(ctx, storage.ChannelRecord{Name: "#kitchen", Owner: "ops"}))
	require.NoError(t, store.Close())

	cfg := testConfig(t)
	cfg.StorePath = storePath
	cfg.APIAddr = "127.0.0.1:0"
	cfg.ChannelPasswords = map[string]string{"#staff": "family-meal"}

	a, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	a.Start()
	defer a.Shutdown()

	channels, err := a.Engine.ListChannels(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name)
		if ch.Name == "#kitchen" {
			assert.Equal(t, "system", ch.Owner, "default definition wins over stored one")
		}
	}
	assert.Equal(t, []string{"#bar", "#kitchen", "#management", "#orders", "#staff"}, names)

	assert.NoError(t, a.Engine.VerifyChannelPassword(ctx, "#staff", "family-meal"))
	assert.ErrorIs(t, a.Engine.VerifyChannelPassword(ctx, "#staff", "guess"), relay.ErrWrongPassword)
	assert.NotNil(t, a.API)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheSize = 0
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "cache size")
}

func TestNewWithoutAPIOrStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIAddr = ""
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, a.API)
	assert.Nil(t, a.Store)
	assert.NotEmpty(t, a.Identity.PublicKey())
	a.Shutdown()
}

func TestIdentityIsStableWithKeyPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIAddr = ""
	cfg.KeyPath = filepath.Join(t.TempDir(), "node.key")

	first, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	first.Shutdown()
	second, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	second.Shutdown()
	assert.Equal(t, first.Identity.PublicKey(), second.Identity.PublicKey())
}

func TestShutdownStopsEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIAddr = ""
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	a.Start()
	a.Shutdown()

	select {
	case <-a.Engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine still running after shutdown")
	}
	_, err = a.Engine.ListPeers(context.Background())
	assert.ErrorIs(t, err, relay.ErrStopped)
	a.Shutdown()
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Str("component", "relay").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"relay"`)

	_, err = NewLogger(&buf, "loud", "json")
	assert.Error(t, err)
}
