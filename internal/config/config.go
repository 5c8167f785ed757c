package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Channels ChannelsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	API      APIConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	DevMode bool
	Level   string
	Format  string
}

// AuthConfig points at the backend endpoint that authorizes private channels.
type AuthConfig struct {
	Host     string
	Endpoint string
	Timeout  time.Duration
}

// URL returns the full authorization endpoint.
func (a AuthConfig) URL() string {
	return joinURL(a.Host, a.Endpoint)
}

// WebhookConfig is disabled when Path is empty.
type WebhookConfig struct {
	Host    string
	Path    string
	Timeout time.Duration
}

func (w WebhookConfig) Enabled() bool {
	return w.Path != "" && w.Host != ""
}

func (w WebhookConfig) URL() string {
	return joinURL(w.Host, w.Path)
}

type ChannelsConfig struct {
	PrivatePatterns     []string
	ClientEventPatterns []string
}

type DatabaseConfig struct {
	Driver string
	URI    string
}

type RedisConfig struct {
	URI          string
	KeyPrefix    string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	Subscribe    bool
}

type KafkaConfig struct {
	Brokers        []string
	LifecycleTopic string
	BroadcastTopic string
	GroupID        string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type APIConfig struct {
	JWTSecret        string
	WSRateLimit      int
	MetricsNamespace string
}

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// LoadConfig reads configuration from the environment, after merging an optional .env file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "")
	v.SetDefault("SERVER_PORT", "6001")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("DEV_MODE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("AUTH_HOST", "http://localhost")
	v.SetDefault("AUTH_ENDPOINT", "/broadcasting/auth")
	v.SetDefault("AUTH_TIMEOUT", 5*time.Second)
	v.SetDefault("WEBHOOK_HOST", "")
	v.SetDefault("WEBHOOK_PATH", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 5*time.Second)
	v.SetDefault("PRIVATE_CHANNELS", "private-*,presence-*")
	v.SetDefault("CLIENT_EVENTS", "client-*")
	v.SetDefault("DATABASE_DRIVER", DriverRedis)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("REDIS_KEY_PREFIX", "")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_SUBSCRIBE", true)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_LIFECYCLE_TOPIC", "echo.lifecycle")
	v.SetDefault("KAFKA_BROADCAST_TOPIC", "echo.broadcast")
	v.SetDefault("KAFKA_GROUP_ID", "echo-server")
	v.SetDefault("API_JWT_SECRET", "")
	v.SetDefault("WS_RATE_LIMIT", 0)
	v.SetDefault("METRICS_NAMESPACE", "echo")
}

func fromViper(v *viper.Viper) (*Config, error) {
	authHost := v.GetString("AUTH_HOST")
	webhookHost := v.GetString("WEBHOOK_HOST")
	if webhookHost == "" {
		webhookHost = authHost
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetString("SERVER_PORT"),
			ReadTimeout:    v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:    v.GetDuration("SERVER_IDLE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			DevMode: v.GetBool("DEV_MODE"),
			Level:   v.GetString("LOG_LEVEL"),
			Format:  v.GetString("LOG_FORMAT"),
		},
		Auth: AuthConfig{
			Host:     authHost,
			Endpoint: v.GetString("AUTH_ENDPOINT"),
			Timeout:  v.GetDuration("AUTH_TIMEOUT"),
		},
		Webhook: WebhookConfig{
			Host:    webhookHost,
			Path:    v.GetString("WEBHOOK_PATH"),
			Timeout: v.GetDuration("WEBHOOK_TIMEOUT"),
		},
		Channels: ChannelsConfig{
			PrivatePatterns:     splitList(v.GetString("PRIVATE_CHANNELS")),
			ClientEventPatterns: splitList(v.GetString("CLIENT_EVENTS")),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
			URI:    v.GetString("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URI:          v.GetString("REDIS_URL"),
			KeyPrefix:    v.GetString("REDIS_KEY_PREFIX"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			Subscribe:    v.GetBool("REDIS_SUBSCRIBE"),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(v.GetString("KAFKA_BROKERS")),
			LifecycleTopic: v.GetString("KAFKA_LIFECYCLE_TOPIC"),
			BroadcastTopic: v.GetString("KAFKA_BROADCAST_TOPIC"),
			GroupID:        v.GetString("KAFKA_GROUP_ID"),
		},
		API: APIConfig{
			JWTSecret:        v.GetString("API_JWT_SECRET"),
			WSRateLimit:      v.GetInt("WS_RATE_LIMIT"),
			MetricsNamespace: v.GetString("METRICS_NAMESPACE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	switch c.Database.Driver {
	case DriverRedis, DriverMemory:
	case DriverPostgres, DriverMySQL:
		if c.Database.URI == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver))
	}
	if len(c.Channels.PrivatePatterns) == 0 {
		errs = append(errs, errors.New("PRIVATE_CHANNELS must list at least one pattern"))
	}
	if c.Auth.Timeout <= 0 || c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("AUTH_TIMEOUT and WEBHOOK_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinURL(host, path string) string {
	if path == "" {
		return host
	}
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
}
