package bthal

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/btforge/bthal/snoop"
)

// Config carries everything a Session needs at open time. The zero
// value is usable: it selects the default queue depth, the default
// buffer pool, slog's default logger and no traffic capture.
//
// The tagged fields can be loaded from a YAML file with LoadConfig;
// the rest are runtime objects wired up by the caller.
type Config struct {
	// Backend names the stack backend to use ("fake", "bluez",
	// "hciuart"). The session itself takes a constructed Stack; this
	// field is for tools that pick the backend from a file.
	Backend string `yaml:"backend"`

	// Adapter identifies the local adapter for the backend: "hci0"
	// for BlueZ, a serial device path for an HCI UART.
	Adapter string `yaml:"adapter"`

	// QueueDepth bounds the event dispatcher queue. Zero means the
	// default.
	QueueDepth int `yaml:"queue_depth"`

	// SnoopPath, when set and Snoop is nil, captures boundary
	// traffic to a file at this path.
	SnoopPath string `yaml:"snoop_path"`

	// LogLevel is the operational log level: "debug", "info",
	// "warn" or "error". Empty means "info".
	LogLevel string `yaml:"log_level"`

	// Logger is the operational logger. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// Snoop receives a record of every boundary crossing. Nil with
	// an empty SnoopPath disables capture.
	Snoop snoop.Logger `yaml:"-"`

	// Pool supplies the buffers that carry values across the
	// boundary. Nil uses plain heap allocation.
	Pool BufferPool `yaml:"-"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("bthal: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("bthal: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the file-loadable fields.
func (c Config) Validate() error {
	if c.QueueDepth < 0 {
		return fmt.Errorf("bthal: queue_depth must not be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("bthal: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Level converts LogLevel into an slog.Level.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withDefaults fills in the runtime fields a session requires.
func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Pool == nil {
		c.Pool = defaultPool
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	return c
}
