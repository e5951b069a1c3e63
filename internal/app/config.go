package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the schoolx backend.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Email         EmailConfig        `mapstructure:"email"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Feedback      FeedbackConfig     `mapstructure:"feedback"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig adds optional file output on top of stdout.
type LoggingConfig struct {
	File LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig configures validation of identity-provider tokens.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationConfig controls the feed and realtime delivery.
type NotificationConfig struct {
	FeedLimit int            `mapstructure:"feed_limit"`
	Realtime  RealtimeConfig `mapstructure:"realtime"`
}

type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Relay   bool   `mapstructure:"relay"`
	Channel string `mapstructure:"channel"`
}

// FeedbackConfig controls the analytics rollup.
type FeedbackConfig struct {
	AnalyticsSchedule  string        `mapstructure:"analytics_schedule"`
	AnalyticsCacheTTL  time.Duration `mapstructure:"analytics_cache_ttl"`
	CachePurgeSchedule string        `mapstructure:"cache_purge_schedule"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LoadConfig reads config.yaml from ./config and paths, then SCHOOLX_* environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SCHOOLX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "./data/logs/schoolx.log")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/schoolx.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.audience", "authenticated")
	v.SetDefault("auth.jwt.access_token_ttl", "1h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("notifications.feed_limit", 50)
	v.SetDefault("notifications.realtime.enabled", true)
	v.SetDefault("notifications.realtime.relay", false)
	v.SetDefault("notifications.realtime.channel", "schoolx:realtime")

	v.SetDefault("feedback.analytics_schedule", "@daily")
	v.SetDefault("feedback.analytics_cache_ttl", "2m")
	v.SetDefault("feedback.cache_purge_schedule", "@hourly")

	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
