package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberinferno/framedsocket/endpointcache"
	"github.com/cyberinferno/framedsocket/logger"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply without file or flags", func(t *testing.T) {
		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pingpong.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
role: client
mode: rawsocket
address: 10.0.0.2:9000
ping_interval: 250ms
log:
  level: debug
resolver:
  enable: true
  ttl: 1m
`), 0o644))

		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "client", cfg.Role)
		assert.Equal(t, "rawsocket", cfg.Mode)
		assert.Equal(t, "10.0.0.2:9000", cfg.Address)
		assert.Equal(t, 250*time.Millisecond, cfg.PingInterval)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Resolver.Enable)
		assert.Equal(t, time.Minute, cfg.Resolver.TTL)
		assert.Equal(t, 8765, cfg.Port)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("FRAMEDSOCKET_PORT", "9999")
		t.Setenv("FRAMEDSOCKET_METRICS_ENABLE", "true")

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, 9999, cfg.Port)
		assert.True(t, cfg.Metrics.Enable)
	})

	t.Run("explicit flags override everything", func(t *testing.T) {
		t.Setenv("FRAMEDSOCKET_MODE", "websocket")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		RegisterFlags(fs)
		require.NoError(t, fs.Parse([]string{"--mode", "rawsocket", "--log-level", "warn", "--tick-interval", "2ms"}))

		cfg, err := Load("", fs)
		require.NoError(t, err)
		assert.Equal(t, "rawsocket", cfg.Mode)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 2*time.Millisecond, cfg.TickInterval)
	})

	t.Run("invalid role is rejected", func(t *testing.T) {
		t.Setenv("FRAMEDSOCKET_ROLE", "relay")

		_, err := Load("", nil)
		assert.ErrorContains(t, err, "invalid role")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("rejects unknown levels", func(t *testing.T) {
		_, err := newLogger(LogConfig{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("writes a rotated file when a directory is set", func(t *testing.T) {
		dir := t.TempDir()
		log, err := newLogger(LogConfig{Level: "info", Dir: dir, MaxSizeMB: 1})
		require.NoError(t, err)

		log.Info("hello")
		require.NoError(t, log.Close())

		_, err = os.Stat(filepath.Join(dir, serviceName+".log"))
		assert.NoError(t, err)
	})
}

func TestAnnouncePeer(t *testing.T) {
	t.Run("does not wait for the name lookup", func(t *testing.T) {
		release := make(chan struct{})
		looked := make(chan string, 1)

		names := endpointcache.NewMemoryCacher[string](cache.NoExpiration, time.Minute)
		resolver := endpointcache.NewResolver(names, time.Minute, 5*time.Second).
			WithLookup(func(ctx context.Context, addr string) ([]string, error) {
				<-release
				looked <- addr
				return []string{"peer.example."}, nil
			})

		done := make(chan struct{})
		go func() {
			announcePeer(logger.NewNopLogger(), "10.1.2.3:4000", resolver)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("announcePeer blocked on the lookup")
		}

		close(release)
		select {
		case addr := <-looked:
			assert.Equal(t, "10.1.2.3", addr)
		case <-time.After(5 * time.Second):
			t.Fatal("lookup never ran")
		}
	})

	t.Run("works without a resolver", func(t *testing.T) {
		announcePeer(logger.NewNopLogger(), "10.1.2.3:4000", nil)
	})
}
