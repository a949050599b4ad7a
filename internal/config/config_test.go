package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/layer"
	"github.com/strataos/strata/internal/router"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, eventbus.DefaultHistoryCapacity, cfg.Bus.HistoryCapacity)
	assert.Equal(t, eventbus.DefaultChannelBuffer, cfg.Bus.ChannelBuffer)
	assert.Equal(t, router.DefaultMaxQueueSize, cfg.Router.MaxQueueSize)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
bus:
  history_capacity: 50
  channel_buffer: 10
router:
  max_queue_size: 500
  event_timeout: 2s
  rules:
    - name: frames-to-ai
      categories: [camera_frame]
      policy: direct
      target: ai
      min_priority: normal
      enabled: true
nats:
  enabled: true
  port: 4333
  mirror_min_priority: high
handlers:
  - id: alerts
    command: "notify-send strata"
    min_priority: critical
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Bus.HistoryCapacity)
	assert.Equal(t, 10, cfg.Bus.ChannelBuffer)
	assert.Equal(t, 500, cfg.Router.MaxQueueSize)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Router.EventTimeout))
	assert.Equal(t, 4333, cfg.NATS.Port)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, router.PolicyDirect, rules[0].Policy)
	assert.Equal(t, layer.AI, rules[0].Target)
	assert.Equal(t, eventbus.PriorityNormal, rules[0].MinPriority)

	cats, minP := cfg.MirrorFilter()
	assert.Empty(t, cats)
	assert.Equal(t, eventbus.PriorityHigh, minP)

	require.Len(t, cfg.Handlers, 1)
	assert.Equal(t, "alerts", cfg.Handlers[0].ID)
}

func TestLoadRejectsBadRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
router:
  rules:
    - name: broken
      policy: teleport
      enabled: true
`), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestDirectPolicyRequiresTarget(t *testing.T) {
	rc := RuleConfig{Name: "no-target", Policy: "direct", Enabled: true}
	_, err := rc.Rule()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STRATA_LOG_LEVEL", "warn")
	t.Setenv("STRATA_HISTORY_CAPACITY", "7")
	t.Setenv("STRATA_NATS_PORT", "4555")
	t.Setenv("STRATA_NATS_ENABLED", "false")
	t.Setenv("STRATA_CHANNEL_BUFFER", "not-a-number") // ignored

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Bus.HistoryCapacity)
	assert.Equal(t, 4555, cfg.NATS.Port)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, eventbus.DefaultChannelBuffer, cfg.Bus.ChannelBuffer)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Router.EventTimeout = Duration(3 * time.Second)
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", back.LogLevel)
	assert.Equal(t, 3*time.Second, time.Duration(back.Router.EventTimeout))
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, path, func(c *Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload within 5s")
	}
}
