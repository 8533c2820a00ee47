package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Service     string          `yaml:"service"`
	Port        int             `yaml:"port"`
	MetricsPort int             `yaml:"metrics_port"`
	GinMode     string          `yaml:"gin_mode"`
	LogLevel    string          `yaml:"log_level"`
	NATS        NATSConfig      `yaml:"nats"`
	Journal     JournalConfig   `yaml:"journal"`
	Store       StoreConfig     `yaml:"store"`
	Chain       ChainConfig     `yaml:"chain"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ChainConfig holds the chain parameters handed to the actuators
type ChainConfig struct {
	AddressPrefix                 string `yaml:"address_prefix"`
	TransferFee                   int64  `yaml:"transfer_fee"`
	NonExistentAccountTransferMin int64  `yaml:"non_existent_account_transfer_min"`
	DeferAccountCreation          bool   `yaml:"defer_account_creation"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Service:     "transfer-actuator",
		Port:        8080,
		MetricsPort: 9090,
		GinMode:     "release",
		LogLevel:    "info",
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://localhost:4222",
			RequestTimeout: 5 * time.Second,
		},
		Journal: JournalConfig{Path: "data/journal.log"},
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ledger:account:",
			},
		},
		Chain: ChainConfig{
			AddressPrefix:                 "0x41",
			TransferFee:                   0,
			NonExistentAccountTransferMin: 1_000_000,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			Environment:  "development",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := errors.Join(cfg.applyEnv(), cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Service = getEnv("SERVICE_NAME", c.Service)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Journal.Path = getEnv("JOURNAL_PATH", c.Journal.Path)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.Redis.Addr = getEnv("REDIS_ADDR", c.Store.Redis.Addr)
	c.Store.Redis.Password = getEnv("REDIS_PASSWORD", c.Store.Redis.Password)
	c.Store.Redis.Prefix = getEnv("REDIS_PREFIX", c.Store.Redis.Prefix)
	c.Chain.AddressPrefix = getEnv("ADDRESS_PREFIX", c.Chain.AddressPrefix)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Environment = getEnv("ENVIRONMENT", c.Telemetry.Environment)

	var errs []error
	c.Port = getEnvInt("PORT", c.Port, &errs)
	c.MetricsPort = getEnvInt("METRICS_PORT", c.MetricsPort, &errs)
	c.Store.Redis.DB = getEnvInt("REDIS_DB", c.Store.Redis.DB, &errs)
	c.Chain.TransferFee = getEnvInt64("TRANSFER_FEE", c.Chain.TransferFee, &errs)
	c.Chain.NonExistentAccountTransferMin = getEnvInt64("NON_EXISTENT_ACCOUNT_TRANSFER_MIN", c.Chain.NonExistentAccountTransferMin, &errs)
	c.Chain.DeferAccountCreation = getEnvBool("DEFER_ACCOUNT_CREATION", c.Chain.DeferAccountCreation, &errs)
	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled, &errs)
	if v := os.Getenv("NATS_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("NATS_REQUEST_TIMEOUT: %w", err))
		} else {
			c.NATS.RequestTimeout = d
		}
	}
	return errors.Join(errs...)
}

// BindFlags registers command line overrides for the most used fields.
// Call it after Load and before fs.Parse.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	fs.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Metrics server port")
	fs.StringVar(&c.NATS.URL, "nats-url", c.NATS.URL, "NATS server URL")
	fs.BoolVar(&c.NATS.Enabled, "nats", c.NATS.Enabled, "Route transactions through NATS")
	fs.StringVar(&c.Journal.Path, "journal", c.Journal.Path, "Journal file path")
	fs.StringVar(&c.GinMode, "gin-mode", c.GinMode, "Gin mode (debug/release)")
	fs.StringVar(&c.Store.Backend, "store", c.Store.Backend, "Ledger backend (memory/redis)")
	fs.StringVar(&c.Store.Redis.Addr, "redis-addr", c.Store.Redis.Addr, "Redis address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug/info/warn/error)")
}

// Validate checks the fields that would otherwise fail deep inside startup
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store backend %q: want %s or %s", c.Store.Backend, BackendMemory, BackendRedis))
	}
	if _, err := c.Chain.Prefix(); err != nil {
		errs = append(errs, err)
	}
	if c.Chain.TransferFee < 0 {
		errs = append(errs, errors.New("transfer fee must not be negative"))
	}
	if c.Chain.NonExistentAccountTransferMin < 0 {
		errs = append(errs, errors.New("non-existent account transfer minimum must not be negative"))
	}
	if c.Port <= 0 || c.MetricsPort <= 0 {
		errs = append(errs, errors.New("ports must be positive"))
	}
	return errors.Join(errs...)
}

// Prefix parses AddressPrefix, written as hex with an optional 0x
func (c ChainConfig) Prefix() (byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(c.AddressPrefix, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("address prefix %q: %w", c.AddressPrefix, err)
	}
	return byte(v), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getEnvInt64(key string, defaultValue int64, errs *[]error) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}
