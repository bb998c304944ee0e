package bthal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bthal.yaml")
	data := `backend: bluez
adapter: hci0
queue_depth: 128
snoop_path: /tmp/boundary.snoop
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bluez", cfg.Backend)
	assert.Equal(t, "hci0", cfg.Adapter)
	assert.Equal(t, 128, cfg.QueueDepth)
	assert.Equal(t, "/tmp/boundary.snoop", cfg.SnoopPath)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{LogLevel: "warn"}.Validate())
	assert.Error(t, Config{QueueDepth: -1}.Validate())
	assert.Error(t, Config{LogLevel: "loud"}.Validate())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Pool)
	assert.Equal(t, defaultQueueDepth, cfg.QueueDepth)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
