package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls where process logs go.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RetryConfig describes a bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// LoggerConfig holds the settings of the ingestion and batching service.
type LoggerConfig struct {
	ListenAddr    string      `yaml:"listen_addr"`
	OutputDir     string      `yaml:"output_dir"`
	FallbackDir   string      `yaml:"fallback_dir"`
	BatchSize     int         `yaml:"batch_size"`
	FlushInterval string      `yaml:"flush_interval"`
	GracePeriod   string      `yaml:"grace_period"`
	Fsync         bool        `yaml:"fsync"`
	MaxLineBytes  int         `yaml:"max_line_bytes"`
	AcceptRetry   RetryConfig `yaml:"accept_retry"`
}

// RelayConfig holds the settings of the pass-through relay.
type RelayConfig struct {
	ListenAddr   string      `yaml:"listen_addr"`
	UpstreamAddr string      `yaml:"upstream_addr"`
	DialTimeout  string      `yaml:"dial_timeout"`
	Retry        RetryConfig `yaml:"retry"`
}

// ProfileDef enables one synthetic traffic profile and scales its pace.
type ProfileDef struct {
	Name    string  `yaml:"name"`
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`
}

// GeneratorConfig holds the settings of the traffic generator.
type GeneratorConfig struct {
	TargetAddr     string       `yaml:"target_addr"`
	Mode           string       `yaml:"mode"`
	Profiles       []ProfileDef `yaml:"profiles"`
	PcapFile       string       `yaml:"pcap_file"`
	FlowTimeout    string       `yaml:"flow_timeout"`
	ReplayLabel    string       `yaml:"replay_label"`
	ReplayTag      string       `yaml:"replay_tag"`
	RateMultiplier float64      `yaml:"rate_multiplier"`
	DialTimeout    string       `yaml:"dial_timeout"`
	Retry          RetryConfig  `yaml:"retry"`
}

// APIConfig holds the settings of the health and stats endpoints.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// NATSConfig holds the settings of the batch notice publisher.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SinksConfig lists the optional mirrors of committed batches.
type SinksConfig struct {
	QueueSize  int              `yaml:"queue_size"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Logger    LoggerConfig    `yaml:"logger"`
	Relay     RelayConfig     `yaml:"relay"`
	Generator GeneratorConfig `yaml:"generator"`
	API       APIConfig       `yaml:"api"`
	Sinks     SinksConfig     `yaml:"sinks"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 7},
		Logger: LoggerConfig{
			ListenAddr:    ":6000",
			OutputDir:     "/data",
			FallbackDir:   "./logs",
			BatchSize:     1000,
			FlushInterval: "30s",
			GracePeriod:   "2s",
			Fsync:         true,
			MaxLineBytes:  1 << 20,
			AcceptRetry:   RetryConfig{MaxAttempts: 5, InitialBackoff: "100ms", MaxBackoff: "2s"},
		},
		Relay: RelayConfig{
			ListenAddr:   ":5000",
			UpstreamAddr: "logger:6000",
			DialTimeout:  "3s",
			Retry:        RetryConfig{MaxAttempts: 10, InitialBackoff: "500ms", MaxBackoff: "10s"},
		},
		Generator: GeneratorConfig{
			TargetAddr:     "consumer:5000",
			Mode:           "synth",
			FlowTimeout:    "10s",
			ReplayLabel:    "background",
			ReplayTag:      "pcap_replay",
			RateMultiplier: 1.0,
			DialTimeout:    "3s",
			Retry:          RetryConfig{MaxAttempts: 10, InitialBackoff: "1s", MaxBackoff: "5s"},
		},
		API: APIConfig{Enabled: true, ListenAddr: ":8080", GRPCAddr: ":9090"},
		Sinks: SinksConfig{
			QueueSize:  16,
			ClickHouse: ClickHouseConfig{Host: "localhost", Port: 9000, Database: "default", Username: "default", Table: "traffic_events"},
			NATS:       NATSConfig{URL: "nats://127.0.0.1:4222", Subject: "gonl.batches"},
		},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Keys missing from the file keep their built-in defaults, and a missing file
// yields the defaults. Environment overrides are applied last.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Config: %s not found, using built-in defaults", filePath)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv honours the environment names the service has always read.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LOGGER_OUTPUT_DIR"); ok && v != "" {
		c.Logger.OutputDir = v
	}
	if v, ok := lookup("LOGGER_LISTEN_ADDR"); ok && v != "" {
		c.Logger.ListenAddr = v
	}
	if v, ok := lookup("LOGGER_BATCH_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LOGGER_BATCH_SIZE %q: %w", v, err)
		}
		c.Logger.BatchSize = n
	}
	if v, ok := lookup("LOGGER_FLUSH_INTERVAL"); ok && v != "" {
		// Plain integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			v = strconv.Itoa(n) + "s"
		}
		c.Logger.FlushInterval = v
	}
	return nil
}

// Validate checks the values a running service depends on.
func (c *Config) Validate() error {
	if c.Logger.BatchSize <= 0 {
		return fmt.Errorf("logger.batch_size must be positive, got %d", c.Logger.BatchSize)
	}
	if c.Logger.MaxLineBytes <= 0 {
		return fmt.Errorf("logger.max_line_bytes must be positive, got %d", c.Logger.MaxLineBytes)
	}
	for name, s := range map[string]string{
		"logger.flush_interval":  c.Logger.FlushInterval,
		"logger.grace_period":    c.Logger.GracePeriod,
		"relay.dial_timeout":     c.Relay.DialTimeout,
		"generator.flow_timeout": c.Generator.FlowTimeout,
		"generator.dial_timeout": c.Generator.DialTimeout,
	} {
		if _, err := ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if d, _ := ParseDuration(c.Logger.FlushInterval); d <= 0 {
		return fmt.Errorf("logger.flush_interval must be a positive duration")
	}
	return nil
}

// ParseDuration parses a Go duration string. The empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
