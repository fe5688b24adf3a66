package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "KIDSWATCH"

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Report  ReportConfig  `mapstructure:"report"`
	Email   EmailConfig   `mapstructure:"email"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort        int      `mapstructure:"api_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	BindAddress    string   `mapstructure:"bind_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // extension origins allowed by CORS
	EventQueueSize int      `mapstructure:"event_queue_size"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type          string      `mapstructure:"type"` // "bolt" or "redis"
	Path          string      `mapstructure:"path"`
	RetentionDays int         `mapstructure:"retention_days"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackerConfig defines the activity tracker behaviour
type TrackerConfig struct {
	TimeoutPage    string         `mapstructure:"timeout_page"`     // extension resource the tab is sent to
	AllowCacheSize int            `mapstructure:"allow_cache_size"` // allowlist decision cache entries
	Defaults       DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds the settings written on first start
type DefaultsConfig struct {
	TimeoutMinutes int      `mapstructure:"timeout_minutes"`
	Allowlist      []string `mapstructure:"allowlist"`
	ParentEmail    string   `mapstructure:"parent_email"`
	Enabled        bool     `mapstructure:"enabled"`
}

// ReportConfig defines the daily report schedule
type ReportConfig struct {
	Time    string `mapstructure:"time"` // HH:MM local time
	CatchUp bool   `mapstructure:"catch_up"`
	TopN    int    `mapstructure:"top_n"`
}

// EmailConfig defines the EmailJS relay settings. Identifiers stored by the
// extension take precedence over the ones configured here.
type EmailConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	ServiceID  string `mapstructure:"service_id"`
	TemplateID string `mapstructure:"template_id"`
	PublicKey  string `mapstructure:"public_key"`
	Timeout    string `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// .env next to the working directory may carry the EmailJS keys
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// KnownKeys returns every configuration key that has a default.
func KnownKeys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8787)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*"})
	v.SetDefault("server.event_queue_size", 64)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/kidswatch/kidswatch.bolt")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "kidswatch:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracker defaults
	v.SetDefault("tracker.timeout_page", "html/timeout.html")
	v.SetDefault("tracker.allow_cache_size", 1024)
	v.SetDefault("tracker.defaults.timeout_minutes", 5)
	v.SetDefault("tracker.defaults.allowlist", []string{
		"classroom.google.com",
		"docs.google.com",
		"drive.google.com",
		"gmail.com",
		"khanacademy.org",
		"duolingo.com",
		"scratch.mit.edu",
	})
	v.SetDefault("tracker.defaults.parent_email", "")
	v.SetDefault("tracker.defaults.enabled", true)

	// Report defaults
	v.SetDefault("report.time", "18:00")
	v.SetDefault("report.catch_up", true)
	v.SetDefault("report.top_n", 5)

	// Email defaults
	v.SetDefault("email.endpoint", "https://api.emailjs.com/api/v1.0/email/send")
	v.SetDefault("email.service_id", "")
	v.SetDefault("email.template_id", "")
	v.SetDefault("email.public_key", "")
	v.SetDefault("email.timeout", "15s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.EventQueueSize <= 0 {
		return fmt.Errorf("event queue size must be positive, got %d", cfg.Server.EventQueueSize)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (expected 'bolt' or 'redis')", cfg.Storage.Type)
	}
	if cfg.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage retention must be at least 1 day, got %d", cfg.Storage.RetentionDays)
	}

	if cfg.Tracker.Defaults.TimeoutMinutes < 1 {
		return fmt.Errorf("default timeout must be at least 1 minute, got %d", cfg.Tracker.Defaults.TimeoutMinutes)
	}
	if cfg.Tracker.TimeoutPage == "" {
		return fmt.Errorf("tracker timeout page is required")
	}
	if cfg.Tracker.AllowCacheSize < 1 {
		return fmt.Errorf("tracker allow_cache_size must be at least 1, got %d", cfg.Tracker.AllowCacheSize)
	}

	if _, err := time.Parse("15:04", cfg.Report.Time); err != nil {
		return fmt.Errorf("invalid report time %q (expected HH:MM): %w", cfg.Report.Time, err)
	}
	if cfg.Report.TopN < 1 {
		return fmt.Errorf("report top_n must be at least 1, got %d", cfg.Report.TopN)
	}

	if _, err := time.ParseDuration(cfg.Email.Timeout); err != nil {
		return fmt.Errorf("invalid email timeout %q: %w", cfg.Email.Timeout, err)
	}
	if cfg.Email.Endpoint == "" {
		return fmt.Errorf("email endpoint is required")
	}

	return nil
}
