package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blotkit/goblot/comms"
	"github.com/blotkit/goblot/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// isolate runs the test in an empty directory so no stray .env is read.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	return dir
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Serial, cfg.Serial)
	assert.Equal(t, 10, cfg.Driver.QueueSize)
	assert.Equal(t, float32(125), cfg.Plotter.MaxX)
	assert.Equal(t, uint32(1700), cfg.Plotter.PenDownPulse)
	assert.Equal(t, filepath.Join(dir, "missing.yaml"), cfg.Path())
}

func TestLoad_YAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
serial:
  port: /dev/ttyACM1
  read_timeout_ms: 50
driver:
  ack_timeout_ms: 2000
plotter:
  step: 2.5
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 50, cfg.Serial.ReadTimeoutMS)
	assert.Equal(t, 2000, cfg.Driver.AckTimeoutMS)
	assert.Equal(t, float32(2.5), cfg.Plotter.Step)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, level)

	cc, err := comms.NewConfig(cfg.CommsOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cc.AckTimeout())
	assert.Equal(t, 50*time.Millisecond, cc.ReadTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "serial:\n  port: /dev/ttyACM1\n")
	writeFile(t, filepath.Join(dir, ".env"), "# plotter\nBLOT_STEP=7.5\nexport BLOT_LOG_FILE='/tmp/blot.log'\nBLOT_PORT=/dev/from-dotenv\n")

	t.Setenv("BLOT_PORT", "/dev/ttyUSB9")
	t.Setenv("BLOT_ACK_TIMEOUT_MS", "1500")
	t.Setenv("BLOT_STEP", "")
	t.Setenv("BLOT_LOG_FILE", "")
	os.Unsetenv("BLOT_STEP")
	os.Unsetenv("BLOT_LOG_FILE")

	cfg, err := Load(path)
	require.NoError(t, err)

	// the real environment wins over .env
	assert.Equal(t, "/dev/ttyUSB9", cfg.Serial.Port)
	assert.Equal(t, 1500, cfg.Driver.AckTimeoutMS)
	assert.Equal(t, float32(7.5), cfg.Plotter.Step)
	assert.Equal(t, "/tmp/blot.log", cfg.Log.File)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"Bad YAML", "serial: [", nil},
		{"Bad Level", "log:\n  level: loud\n", nil},
		{"Bad Format", "log:\n  format: xml\n", nil},
		{"Bad Queue", "driver:\n  queue_size: 0\n", nil},
		{"Bad Read Timeout", "serial:\n  read_timeout_ms: 5000\n", nil},
		{"Bad Step", "plotter:\n  step: 200\n", nil},
		{"Bad Env Int", "", map[string]string{"BLOT_BAUD": "fast"}},
		{"Bad Env Step", "", map[string]string{"BLOT_STEP": "big"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "config.yaml")
			writeFile(t, path, tt.yaml)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSave(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Serial.Port = "/dev/ttyACM3"
	require.NoError(t, cfg.Save())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", again.Serial.Port)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "config.yaml", filepath.Base(DefaultPath()))
}
