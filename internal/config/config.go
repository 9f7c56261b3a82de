// Package config loads the blotctl configuration from a YAML file, a .env
// file and BLOT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blotkit/goblot/command"
	"github.com/blotkit/goblot/comms"
	"github.com/blotkit/goblot/logger"
	"github.com/blotkit/goblot/plotter"
	"github.com/blotkit/goblot/serialport"
)

// Config holds all blotctl configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Driver  DriverConfig  `yaml:"driver"`
	Plotter PlotterConfig `yaml:"plotter"`
	Log     LogConfig     `yaml:"log"`

	path string
}

type SerialConfig struct {
	Port          string `yaml:"port"` // empty: pick a USB port
	BaudRate      int    `yaml:"baud_rate"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type DriverConfig struct {
	QueueSize      int `yaml:"queue_size"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
	AckTimeoutMS   int `yaml:"ack_timeout_ms"` // 0 waits forever
}

type PlotterConfig struct {
	MaxX         float32 `yaml:"max_x"`
	MaxY         float32 `yaml:"max_y"`
	Step         float32 `yaml:"step"`
	PenUpPulse   uint32  `yaml:"pen_up_pulse"`
	PenDownPulse uint32  `yaml:"pen_down_pulse"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
	File   string `yaml:"file"`   // interactive mode only; empty discards
}

// Default returns a config with the firmware defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:      serialport.DefaultBaudRate,
			ReadTimeoutMS: int(serialport.DefaultReadTimeout / time.Millisecond),
		},
		Driver: DriverConfig{
			QueueSize:      comms.DefaultQueueSize,
			PollIntervalMS: int(comms.DefaultPollInterval / time.Millisecond),
		},
		Plotter: PlotterConfig{
			MaxX:         plotter.DefaultMax,
			MaxY:         plotter.DefaultMax,
			Step:         plotter.DefaultStep,
			PenUpPulse:   command.PenUpPulse,
			PenDownPulse: command.PenDownPulse,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns ~/.config/blotctl/config.yaml, or a relative
// config.yaml when the user config directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}

	return filepath.Join(dir, "blotctl", "config.yaml")
}

// Load reads path, then applies .env and environment overrides.
// A missing file yields the defaults; an unreadable or invalid one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("config: no config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		logger.Debug("config: loaded", "path", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config as YAML to its path, creating the directory.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = DefaultPath()
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	return os.WriteFile(c.path, data, 0o644)
}

// loadEnvFile reads KEY=VALUE lines into the environment. Variables already
// set in the real environment win.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	logger.Debug("config: loading .env", "path", path)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides applies BLOT_PORT, BLOT_BAUD, BLOT_READ_TIMEOUT_MS,
// BLOT_QUEUE_SIZE, BLOT_POLL_INTERVAL_MS, BLOT_ACK_TIMEOUT_MS, BLOT_STEP,
// BLOT_LOG_LEVEL, BLOT_LOG_FORMAT and BLOT_LOG_FILE.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("BLOT_PORT"); v != "" {
		c.Serial.Port = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"BLOT_BAUD", &c.Serial.BaudRate},
		{"BLOT_READ_TIMEOUT_MS", &c.Serial.ReadTimeoutMS},
		{"BLOT_QUEUE_SIZE", &c.Driver.QueueSize},
		{"BLOT_POLL_INTERVAL_MS", &c.Driver.PollIntervalMS},
		{"BLOT_ACK_TIMEOUT_MS", &c.Driver.AckTimeoutMS},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not an integer", e.key, v)
		}
		*e.dst = n
	}
	if v := os.Getenv("BLOT_STEP"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("config: BLOT_STEP=%q is not a number", v)
		}
		c.Plotter.Step = float32(f)
	}
	if v := os.Getenv("BLOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BLOT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("BLOT_LOG_FILE"); v != "" {
		c.Log.File = v
	}

	return nil
}

// Validate checks every value by building the options it maps to.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if _, err := comms.NewConfig(c.CommsOptions()...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := plotter.New(nil, c.PlotterOptions()...); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(c.Log.Level)
}

// CommsOptions maps the serial and driver sections to comms options.
func (c *Config) CommsOptions() []comms.Option {
	return []comms.Option{
		comms.WithBaudRate(c.Serial.BaudRate),
		comms.WithReadTimeout(ms(c.Serial.ReadTimeoutMS)),
		comms.WithQueueSize(c.Driver.QueueSize),
		comms.WithPollInterval(ms(c.Driver.PollIntervalMS)),
		comms.WithAckTimeout(ms(c.Driver.AckTimeoutMS)),
	}
}

// PlotterOptions maps the plotter section to plotter options.
func (c *Config) PlotterOptions() []plotter.Option {
	return []plotter.Option{
		plotter.WithBounds(c.Plotter.MaxX, c.Plotter.MaxY),
		plotter.WithStep(c.Plotter.Step),
		plotter.WithPenPulses(c.Plotter.PenUpPulse, c.Plotter.PenDownPulse),
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
