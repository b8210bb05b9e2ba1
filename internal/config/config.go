package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Quota       QuotaConfig     `yaml:"quota"`
	Sending     SendingConfig   `yaml:"sending"`
	SES         SESConfig       `yaml:"ses"`
	SparkPost   SparkPostConfig `yaml:"sparkpost"`
	Worker      WorkerConfig    `yaml:"worker"`
	Log         LogConfig       `yaml:"log"`
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory repositories.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis URL used for quota counters, the send queue
// and distributed locks. Empty selects in-process stores.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// QuotaConfig holds the provider ceilings.
type QuotaConfig struct {
	DailyLimit   int `yaml:"daily_limit"`
	WindowLimit  int `yaml:"window_limit"`
	WindowMillis int `yaml:"window_millis"`
}

func (c QuotaConfig) WindowSize() time.Duration {
	return time.Duration(c.WindowMillis) * time.Millisecond
}

// SendingConfig controls the enqueue path and provider selection.
type SendingConfig struct {
	Provider              string `yaml:"provider"` // "ses", "sparkpost" or "log"
	DefaultBatchSize      int    `yaml:"default_batch_size"`
	MaxBatchSize          int    `yaml:"max_batch_size"`
	RequireVerifiedDomain bool   `yaml:"require_verified_domain"`
	LockWaitSeconds       int    `yaml:"lock_wait_seconds"`
}

func (c SendingConfig) LockWait() time.Duration {
	return time.Duration(c.LockWaitSeconds) * time.Second
}

// SESConfig holds AWS SES v2 credentials. Empty keys use the default
// credential chain.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SparkPostConfig holds SparkPost API settings
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkerConfig holds send worker settings
type WorkerConfig struct {
	Workers            int    `yaml:"workers"`
	Concurrency        int    `yaml:"concurrency"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
	LeaseSeconds       int    `yaml:"lease_seconds"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds"` // job lock lease, extended while a batch runs
	RecoverySpec       string `yaml:"recovery_spec"` // cron spec for the stale lease sweep
	MaxErrors          int    `yaml:"max_errors"`
}

func (c WorkerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c WorkerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `yaml:"level"`
	DisablePII bool   `yaml:"disable_pii_redaction"`
}

// Load reads a YAML file and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Quota.DailyLimit == 0 {
		cfg.Quota.DailyLimit = 50000
	}
	if cfg.Quota.WindowLimit == 0 {
		cfg.Quota.WindowLimit = 14
	}
	if cfg.Quota.WindowMillis == 0 {
		cfg.Quota.WindowMillis = 1000
	}
	if cfg.Sending.Provider == "" {
		cfg.Sending.Provider = "ses"
	}
	if cfg.Sending.DefaultBatchSize == 0 {
		cfg.Sending.DefaultBatchSize = 25
	}
	if cfg.Sending.MaxBatchSize == 0 {
		cfg.Sending.MaxBatchSize = 500
	}
	if cfg.Sending.LockWaitSeconds == 0 {
		cfg.Sending.LockWaitSeconds = 15
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SparkPost.TimeoutSeconds == 0 {
		cfg.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Worker.Workers == 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Worker.SendTimeoutSeconds == 0 {
		cfg.Worker.SendTimeoutSeconds = 30
	}
	if cfg.Worker.LockTTLSeconds == 0 {
		cfg.Worker.LockTTLSeconds = 30
	}
	if cfg.Worker.LeaseSeconds == 0 {
		cfg.Worker.LeaseSeconds = 300
	}
	if cfg.Worker.RecoverySpec == "" {
		cfg.Worker.RecoverySpec = "@every 1m"
	}
	if cfg.Worker.MaxErrors == 0 {
		cfg.Worker.MaxErrors = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads .env, then the YAML file, then environment overrides.
// A missing YAML file is not an error; the config then comes from defaults
// and the environment alone.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	strs := map[string]*string{
		"ENVIRONMENT":        &cfg.Environment,
		"DATABASE_URL":       &cfg.Database.URL,
		"REDIS_URL":          &cfg.Redis.URL,
		"ESP_PROVIDER":       &cfg.Sending.Provider,
		"AWS_SES_REGION":     &cfg.SES.Region,
		"AWS_SES_ACCESS_KEY": &cfg.SES.AccessKey,
		"AWS_SES_SECRET_KEY": &cfg.SES.SecretKey,
		"SPARKPOST_API_KEY":  &cfg.SparkPost.APIKey,
		"SPARKPOST_BASE_URL": &cfg.SparkPost.BaseURL,
		"LOG_LEVEL":          &cfg.Log.Level,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":               &cfg.Server.Port,
		"QUOTA_DAILY_LIMIT":  &cfg.Quota.DailyLimit,
		"QUOTA_WINDOW_LIMIT": &cfg.Quota.WindowLimit,
		"WORKER_COUNT":       &cfg.Worker.Workers,
		"WORKER_CONCURRENCY": &cfg.Worker.Concurrency,
	}
	for name, dst := range ints {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", name, v)
		}
		*dst = n
	}

	if v := os.Getenv("REQUIRE_VERIFIED_DOMAIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REQUIRE_VERIFIED_DOMAIN: %w", err)
		}
		cfg.Sending.RequireVerifiedDomain = b
	}
	cfg.Sending.Provider = strings.ToLower(cfg.Sending.Provider)
	return nil
}
