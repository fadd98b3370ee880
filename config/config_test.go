package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Listen: ListenConfig{
			Host:             "0.0.0.0",
			Port:             4000,
			ReadTimeout:      0,
			WriteTimeout:     30 * time.Second,
			MaxLineLength:    4096,
			MaxConnections:   1024,
			WriteBufferLimit: 65536,
			LineTerminator:   "crlf",
			ShutdownTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 4000, cfg.Listen.Port)
	assert.Equal(t, 4096, cfg.Listen.MaxLineLength)
	assert.Equal(t, "crlf", cfg.Listen.LineTerminator)
}

func TestListenAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:4000", cfg.Listen.Addr())
}

func TestTerminator(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "\r\n", cfg.Listen.Terminator())

	cfg.Listen.LineTerminator = "lf"
	assert.Equal(t, "\n", cfg.Listen.Terminator())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
listen:
  host: 127.0.0.1
  port: 4001
  max_line_length: 512
  line_terminator: lf
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Listen.Host)
	assert.Equal(t, 4001, cfg.Listen.Port)
	assert.Equal(t, 512, cfg.Listen.MaxLineLength)
	assert.Equal(t, "\n", cfg.Listen.Terminator())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset keys fall back to defaults.
	assert.Equal(t, 1024, cfg.Listen.MaxConnections)
	assert.Equal(t, 65536, cfg.Listen.WriteBufferLimit)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
listen:
  port: 4001
`), 0644)
	require.NoError(t, err)

	t.Setenv("GSB_LISTEN_PORT", "4002")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4002, cfg.Listen.Port)
}

func TestValidatePort(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Listen.Port = 65536
	assert.Error(t, cfg.Validate())
}

func TestValidateMaxLineLength(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.MaxLineLength = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateWriteBufferLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.WriteBufferLimit = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateNegativeTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.ReadTimeout = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Listen.WriteTimeout = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Listen.ShutdownTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestValidateLineTerminator(t *testing.T) {
	for _, term := range []string{"lf", "crlf"} {
		cfg := validConfig()
		cfg.Listen.LineTerminator = term
		assert.NoError(t, cfg.Validate(), "terminator %q should be valid", term)
	}
	cfg := validConfig()
	cfg.Listen.LineTerminator = "cr"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Listen.Port = -1
	cfg.Listen.MaxLineLength = 0
	cfg.Logging.Level = "trace"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.port")
	assert.Contains(t, err.Error(), "listen.max_line_length")
	assert.Contains(t, err.Error(), "logging.level")
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(0, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Listen.Port = port
		assert.NoError(t, cfg.Validate())
	})
}

func TestPropertyInvalidPortRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Listen.Port = port
		assert.Error(t, cfg.Validate())
	})
}
