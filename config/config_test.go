package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/fileset"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
writer:
  compression: lz4hc
  block_size: 64KiB
  restart_interval: 32
reader:
  verify_checksums: true
  block_cache_blocks: 128
sorter:
  max_memory: 256MiB
  temp_dir: /var/tmp/sort
fileset:
  reload_interval: 10s
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "lz4hc", cfg.Writer.Compression)
	assert.Equal(t, "64KiB", cfg.Writer.BlockSize)
	assert.Equal(t, 32, cfg.Writer.RestartInterval)
	assert.True(t, cfg.Reader.VerifyChecksums)
	assert.Equal(t, 128, cfg.Reader.BlockCacheSize)
	assert.Equal(t, "/var/tmp/sort", cfg.Sorter.TempDir)

	// Defaults that were not overridden.
	assert.Equal(t, "snappy", cfg.Sorter.SpillCompression)
	assert.False(t, cfg.Reader.MadviseRandom)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
writer:
  compression: zlib
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("writer:\n  compression: zstd\n"), 0o644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "zstd", cfg.Writer.Compression)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			assert.Equal(t, tc.expected, ParseDuration(tc.input, defaultDuration, testLogger))
		})
	}
}

func TestParseSize(t *testing.T) {
	testCases := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "", want: 0},
		{input: "8192", want: 8192},
		{input: "8KiB", want: 8192},
		{input: "64 MiB", want: 64 << 20},
		{input: "1GiB", want: 1 << 30},
		{input: "1.5GiB", want: 3 << 29},
		{input: "10MB", want: 10_000_000},
		{input: "4k", want: 4096},
		{input: "512b", want: 512},
		{input: "  2m  ", want: 2 << 20},
		{input: "-5", wantErr: true},
		{input: "lots", wantErr: true},
		{input: "MiB", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	wo, err := cfg.WriterOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, sstable.DefaultWriterOptions().Compression, wo.Compression)
	assert.Equal(t, sstable.DefaultBlockSize, wo.BlockSize)
	assert.Equal(t, sstable.DefaultRestartInterval, wo.RestartInterval)
	assert.Same(t, logger, wo.Logger)
	assert.Nil(t, wo.Tracer, "tracing disabled by default")

	ro, err := cfg.ReaderOptions(logger)
	require.NoError(t, err)
	assert.False(t, ro.VerifyChecksums)
	assert.Zero(t, ro.BlockCacheSize)

	so, err := cfg.SorterOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, core.CompressionSnappy, so.SpillCompression)
	assert.Positive(t, so.MaxMemory)
	assert.NotEmpty(t, so.TempDir)

	fo, err := cfg.FilesetOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, fileset.DefaultReloadInterval, fo.ReloadInterval)

	cfg.Sorter.MaxMemory = "300"
	cfg.Sorter.TempDir = "/scratch"
	cfg.Fileset.ReloadInterval = "5s"
	cfg.Writer.Compression = "none"
	so, err = cfg.SorterOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, int64(300), so.MaxMemory)
	assert.Equal(t, "/scratch", so.TempDir)
	fo, err = cfg.FilesetOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, fo.ReloadInterval)
	wo, err = cfg.WriterOptions(logger)
	require.NoError(t, err)
	assert.Equal(t, core.CompressionNone, wo.Compression)

	cfg.Tracing.Enabled = true
	wo, err = cfg.WriterOptions(logger)
	require.NoError(t, err)
	assert.NotNil(t, wo.Tracer)
}

func TestConfig_InvalidOptions(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		check  func(*Config) error
	}{
		{
			name:   "unknown compression",
			mutate: func(c *Config) { c.Writer.Compression = "brotli" },
			check:  func(c *Config) error { _, err := c.WriterOptions(nil); return err },
		},
		{
			name:   "bad block size",
			mutate: func(c *Config) { c.Writer.BlockSize = "big" },
			check:  func(c *Config) error { _, err := c.WriterOptions(nil); return err },
		},
		{
			name:   "negative restart interval",
			mutate: func(c *Config) { c.Writer.RestartInterval = -1 },
			check:  func(c *Config) error { _, err := c.WriterOptions(nil); return err },
		},
		{
			name:   "negative block cache",
			mutate: func(c *Config) { c.Reader.BlockCacheSize = -1 },
			check:  func(c *Config) error { _, err := c.FilesetOptions(nil); return err },
		},
		{
			name:   "bad max memory",
			mutate: func(c *Config) { c.Sorter.MaxMemory = "-1GiB" },
			check:  func(c *Config) error { _, err := c.SorterOptions(nil); return err },
		},
		{
			name:   "unknown spill compression",
			mutate: func(c *Config) { c.Sorter.SpillCompression = "gzip" },
			check:  func(c *Config) error { _, err := c.SorterOptions(nil); return err },
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, tc.check(cfg))
		})
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)

	buf.Reset()
	logger, err = LoggingConfig{Level: "debug"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("text output")
	assert.Contains(t, buf.String(), "msg=\"text output\"")

	_, err = LoggingConfig{Level: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
	_, err = LoggingConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	assert.Error(t, err)
}

func TestLoggingConfig_Open(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, closer, err := LoggingConfig{Level: "info", Output: "file", File: path}.Open()
	require.NoError(t, err)
	require.NotNil(t, closer)
	logger.Info("to file")
	require.NoError(t, closer.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	_, closer, err = LoggingConfig{Output: "none"}.Open()
	require.NoError(t, err)
	assert.Nil(t, closer)

	_, _, err = LoggingConfig{Output: "file"}.Open()
	assert.Error(t, err)
	_, _, err = LoggingConfig{Output: "syslog"}.Open()
	assert.Error(t, err)
}

func TestTracingConfig_Disabled(t *testing.T) {
	cfg := Default().Tracing
	assert.Nil(t, cfg.Tracer())

	tp, cleanup, err := cfg.InitTracerProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NotNil(t, tp)
	cleanup()

	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"
	_, _, err = cfg.InitTracerProvider(nil)
	assert.Error(t, err)
}
