package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(4096), cfg.Websocket.ReadLimit)
	assert.Equal(t, 60*time.Second, cfg.Websocket.PongTimeout)
	assert.Equal(t, 64, cfg.Websocket.ConduitBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
  path: /play
websocket:
  conduit_buffer: 8
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "/play", cfg.Server.Path)
	assert.Equal(t, 8, cfg.Websocket.ConduitBuffer)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Host: "x", Port: 0, Path: "no-slash"},
		Websocket: WebsocketConfig{
			ReadLimit:     0,
			WriteTimeout:  time.Second,
			PongTimeout:   time.Second,
			PingPeriod:    2 * time.Second,
			ConduitBuffer: 1,
		},
		Logging: LoggingConfig{Level: "verbose", Format: "json"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.path")
	assert.Contains(t, err.Error(), "websocket.read_limit")
	assert.Contains(t, err.Error(), "websocket.ping_period")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_PingMustBeatPong(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{Port: 8080, Path: "/ws"},
		Websocket: WebsocketConfig{
			ReadLimit:     1024,
			WriteTimeout:  time.Second,
			PongTimeout:   10 * time.Second,
			PingPeriod:    10 * time.Second,
			ConduitBuffer: 4,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_period must be less")
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("server.port", 4444)

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4444, cfg.Server.Port)
}

func TestLoadFromViper_Invalid(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("logging.format", "xml")

	_, err := LoadFromViper(v)
	assert.Error(t, err)
}
