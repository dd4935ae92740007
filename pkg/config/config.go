package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends for the token store
const (
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const (
	DefaultAPIBaseURL     = "https://localhost:7001"
	DefaultHubURL         = "https://localhost:7001/hubs/notification"
	DefaultRequestTimeout = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultRetryDelay     = 5 * time.Second
	DefaultPageSize       = 20
	DefaultRedisAddr      = "localhost:6379"
	DefaultLogLevel       = "info"
)

// Config is the console's configuration
type Config struct {
	APIBaseURL     string        `yaml:"apiBaseUrl"`
	HubURL         string        `yaml:"hubUrl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	PageSize       int           `yaml:"pageSize"`

	Store     string `yaml:"store"`
	DataDir   string `yaml:"dataDir"`
	RedisAddr string `yaml:"redisAddr"`
	// Secret seals persisted tokens when set
	Secret string `yaml:"secret"`
	// CAFile is a PEM bundle of extra roots trusted for HTTPS and WSS
	CAFile string `yaml:"caFile"`

	LogLevel    string `yaml:"logLevel"`
	JSONLogs    bool   `yaml:"jsonLogs"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		APIBaseURL:     DefaultAPIBaseURL,
		HubURL:         DefaultHubURL,
		RequestTimeout: DefaultRequestTimeout,
		ReconnectDelay: DefaultReconnectDelay,
		RetryDelay:     DefaultRetryDelay,
		PageSize:       DefaultPageSize,
		Store:          StoreBolt,
		DataDir:        defaultDataDir(),
		RedisAddr:      DefaultRedisAddr,
		LogLevel:       DefaultLogLevel,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swms"
	}
	return filepath.Join(home, ".swms")
}

// Load reads path over the defaults and then applies SWMS_* environment
// overrides. An empty path skips the file; a missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SWMS_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"SWMS_API_BASE_URL": &c.APIBaseURL,
		"SWMS_HUB_URL":      &c.HubURL,
		"SWMS_STORE":        &c.Store,
		"SWMS_DATA_DIR":     &c.DataDir,
		"SWMS_REDIS_ADDR":   &c.RedisAddr,
		"SWMS_LOG_LEVEL":    &c.LogLevel,
		"SWMS_SECRET":       &c.Secret,
		"SWMS_CA_FILE":      &c.CAFile,
	}
	for key, field := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
}

// Validate checks the configuration for values the console cannot run with
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("apiBaseUrl", c.APIBaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("hubUrl", c.HubURL); err != nil {
		errs = append(errs, err)
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("requestTimeout must be positive"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnectDelay must be positive"))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, errors.New("retryDelay must be positive"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("pageSize must be positive"))
	}

	switch c.Store {
	case StoreBolt:
		if c.DataDir == "" {
			errs = append(errs, errors.New("dataDir is required for the bolt store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redisAddr is required for the redis store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want bolt, redis or memory)", c.Store))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("%s has unsupported scheme %q", field, u.Scheme)
	}
}
