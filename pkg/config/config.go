// Package config loads and validates the importer configuration from an
// optional YAML file, MEILI_* environment-variable overrides, and the CLI
// flags bound on top by the command layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Upload operation kinds. AddOrReplace maps to POST, AddOrUpdate to PUT.
const (
	OperationAddOrReplace = "add-or-replace"
	OperationAddOrUpdate  = "add-or-update"
)

// ByteSize is a byte count that unmarshals from human-readable strings such
// as "20MiB" or "50MB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseByteSize(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// String renders the size in IEC units ("20 MiB").
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses a byte-unit string ("20MiB", "50MB", "1048576").
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Config is the fully resolved importer configuration.
type Config struct {
	URL        string   `yaml:"url"`
	Index      string   `yaml:"index"`
	PrimaryKey string   `yaml:"primaryKey"`
	APIKey     string   `yaml:"apiKey"`
	Files      []string `yaml:"files"`

	// Format overrides extension-based detection ("csv", "ndjson", "json").
	// Required when reading from stdin.
	Format string `yaml:"format"`

	BatchSize    ByteSize `yaml:"batchSize"`
	CSVDelimiter string   `yaml:"csvDelimiter"`
	SkipBatches  int      `yaml:"skipBatches"`
	Operation    string   `yaml:"uploadOperation"`

	Upload  UploadConfig  `yaml:"upload"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// UploadConfig controls the HTTP client and retry policy.
type UploadConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the optional Prometheus scrape server. A zero port
// disables it.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Flag values are bound by the command layer after Load returns.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		BatchSize:    20 * 1024 * 1024,
		CSVDelimiter: ",",
		Operation:    OperationAddOrReplace,
		Upload: UploadConfig{
			Timeout:      5 * time.Minute,
			MaxAttempts:  20,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is complete and coherent.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.Index == "" {
		return fmt.Errorf("index is required")
	}
	if len(c.Files) == 0 {
		return fmt.Errorf("at least one input file is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if len([]rune(c.CSVDelimiter)) != 1 {
		return fmt.Errorf("csv delimiter must be a single character, got %q", c.CSVDelimiter)
	}
	switch c.Operation {
	case OperationAddOrReplace, OperationAddOrUpdate:
	default:
		return fmt.Errorf("upload operation must be %q or %q, got %q",
			OperationAddOrReplace, OperationAddOrUpdate, c.Operation)
	}
	if c.SkipBatches < 0 {
		return fmt.Errorf("skip batches must not be negative, got %d", c.SkipBatches)
	}
	switch c.Format {
	case "", "csv", "ndjson", "json":
	default:
		return fmt.Errorf("format must be csv, ndjson or json, got %q", c.Format)
	}
	return nil
}

// Delimiter returns the CSV delimiter as a rune. Validate must have passed.
func (c *Config) Delimiter() rune {
	return []rune(c.CSVDelimiter)[0]
}

// applyEnvOverrides reads MEILI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEILI_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("MEILI_INDEX"); v != "" {
		cfg.Index = v
	}
	if v := os.Getenv("MEILI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("MEILI_PRIMARY_KEY"); v != "" {
		cfg.PrimaryKey = v
	}
	if v := os.Getenv("MEILI_BATCH_SIZE"); v != "" {
		if size, err := ParseByteSize(v); err == nil {
			cfg.BatchSize = size
		}
	}
	if v := os.Getenv("MEILI_SKIP_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SkipBatches = n
		}
	}
	if v := os.Getenv("MEILI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEILI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MEILI_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
