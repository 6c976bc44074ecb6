package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/fileset"
	"github.com/INLOpen/nexustable/sorter"
	"github.com/INLOpen/nexustable/sstable"
	"gopkg.in/yaml.v3"
)

// WriterConfig holds sstable writer configuration.
type WriterConfig struct {
	Compression     string `yaml:"compression"`
	BlockSize       string `yaml:"block_size"` // e.g. "8KiB" or "8192"
	RestartInterval int    `yaml:"restart_interval"`
}

// ReaderConfig holds sstable reader configuration.
type ReaderConfig struct {
	VerifyChecksums bool `yaml:"verify_checksums"`
	MadviseRandom   bool `yaml:"madvise_random"`
	BlockCacheSize  int  `yaml:"block_cache_blocks"`
}

// SorterConfig holds external sort configuration.
type SorterConfig struct {
	MaxMemory        string `yaml:"max_memory"` // empty selects the memory-based default
	TempDir          string `yaml:"temp_dir"`
	SpillCompression string `yaml:"spill_compression"`
}

// FilesetConfig holds fileset configuration.
type FilesetConfig struct {
	ReloadInterval  string `yaml:"reload_interval"`
	OpenConcurrency int    `yaml:"open_concurrency"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout", "file" or "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol    string `yaml:"protocol"` // "grpc" or "http"
	ServiceName string `yaml:"service_name"`
}

// Config is the top-level configuration struct.
type Config struct {
	Writer  WriterConfig  `yaml:"writer"`
	Reader  ReaderConfig  `yaml:"reader"`
	Sorter  SorterConfig  `yaml:"sorter"`
	Fileset FilesetConfig `yaml:"fileset"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Writer: WriterConfig{
			Compression:     sstable.DefaultCompression.String(),
			BlockSize:       strconv.Itoa(sstable.DefaultBlockSize),
			RestartInterval: sstable.DefaultRestartInterval,
		},
		Reader: ReaderConfig{
			VerifyChecksums: false,
			MadviseRandom:   false,
			BlockCacheSize:  0,
		},
		Sorter: SorterConfig{
			MaxMemory:        "",
			TempDir:          "",
			SpillCompression: sorter.DefaultSpillCompression.String(),
		},
		Fileset: FilesetConfig{
			ReloadInterval: fileset.DefaultReloadInterval.String(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			File:   "nexustable.log",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "nexustable",
		},
	}
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"tib", 1 << 40},
	{"kb", 1000},
	{"mb", 1000 * 1000},
	{"gb", 1000 * 1000 * 1000},
	{"tb", 1000 * 1000 * 1000 * 1000},
	{"k", 1 << 10},
	{"m", 1 << 20},
	{"g", 1 << 30},
	{"b", 1},
}

// ParseSize parses a byte size such as "8192", "64KiB", "1.5GiB" or "10MB".
// Binary suffixes (KiB, MiB, GiB, TiB and the bare K, M, G) are powers of
// 1024; KB, MB, GB and TB are powers of 1000. An empty string is zero.
func ParseSize(s string) (int64, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	if str == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(str, u.suffix) {
			str = strings.TrimSpace(strings.TrimSuffix(str, u.suffix))
			mult = u.mult
			break
		}
	}
	if n, err := strconv.ParseInt(str, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: negative", s)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(f * float64(mult)), nil
}

// ParseCompression maps a compression name to its type.
func ParseCompression(name string) (core.CompressionType, error) {
	return core.ParseCompressionType(name)
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// WriterOptions converts the writer section.
func (c *Config) WriterOptions(logger *slog.Logger) (sstable.WriterOptions, error) {
	compression, err := ParseCompression(c.Writer.Compression)
	if err != nil {
		return sstable.WriterOptions{}, fmt.Errorf("writer.compression: %w", err)
	}
	blockSize, err := ParseSize(c.Writer.BlockSize)
	if err != nil {
		return sstable.WriterOptions{}, fmt.Errorf("writer.block_size: %w", err)
	}
	if c.Writer.RestartInterval < 0 {
		return sstable.WriterOptions{}, fmt.Errorf("writer.restart_interval: invalid value %d", c.Writer.RestartInterval)
	}
	return sstable.WriterOptions{
		Compression:     compression,
		BlockSize:       int(blockSize),
		RestartInterval: c.Writer.RestartInterval,
		Logger:          logger,
		Tracer:          c.Tracing.Tracer(),
	}, nil
}

// ReaderOptions converts the reader section.
func (c *Config) ReaderOptions(logger *slog.Logger) (sstable.ReaderOptions, error) {
	if c.Reader.BlockCacheSize < 0 {
		return sstable.ReaderOptions{}, fmt.Errorf("reader.block_cache_blocks: invalid value %d", c.Reader.BlockCacheSize)
	}
	return sstable.ReaderOptions{
		VerifyChecksums: c.Reader.VerifyChecksums,
		MadviseRandom:   c.Reader.MadviseRandom,
		BlockCacheSize:  c.Reader.BlockCacheSize,
		Logger:          logger,
		Tracer:          c.Tracing.Tracer(),
	}, nil
}

// SorterOptions converts the sorter section.
func (c *Config) SorterOptions(logger *slog.Logger) (sorter.Options, error) {
	opts := sorter.DefaultOptions()
	maxMemory, err := ParseSize(c.Sorter.MaxMemory)
	if err != nil {
		return sorter.Options{}, fmt.Errorf("sorter.max_memory: %w", err)
	}
	if maxMemory > 0 {
		opts.MaxMemory = maxMemory
	}
	if c.Sorter.TempDir != "" {
		opts.TempDir = c.Sorter.TempDir
	}
	if opts.SpillCompression, err = ParseCompression(c.Sorter.SpillCompression); err != nil {
		return sorter.Options{}, fmt.Errorf("sorter.spill_compression: %w", err)
	}
	opts.Logger = logger
	opts.Tracer = c.Tracing.Tracer()
	return opts, nil
}

// FilesetOptions converts the fileset section. Table readers use the
// reader section.
func (c *Config) FilesetOptions(logger *slog.Logger) (fileset.Options, error) {
	readerOpts, err := c.ReaderOptions(logger)
	if err != nil {
		return fileset.Options{}, err
	}
	return fileset.Options{
		ReloadInterval:  ParseDuration(c.Fileset.ReloadInterval, fileset.DefaultReloadInterval, logger),
		Reader:          readerOpts,
		OpenConcurrency: c.Fileset.OpenConcurrency,
		Logger:          logger,
		Tracer:          c.Tracing.Tracer(),
	}, nil
}
