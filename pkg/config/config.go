package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Ledger    LedgerConfig
	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// LedgerConfig holds the ledger JSON API endpoints
type LedgerConfig struct {
	URL              string // http(s) base URL of the JSON API
	WebsocketURL     string // ws(s) base URL; derived from URL when empty
	Token            string // bearer token used by cmd/watch
	JWTSecret        string // verifies bearer tokens when set; the ledger verifies otherwise
	RequestTimeout   time.Duration
	ReconnectTimeout time.Duration
	CommandRPS       float64
	CommandBurst     int
}

// SessionConfig holds per-party session settings
type SessionConfig struct {
	IdleTTL     time.Duration
	EventBuffer int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL     string
	Enabled bool
	ViewTTL time.Duration
}

// DatabaseConfig holds the command journal database configuration
type DatabaseConfig struct {
	URL     string
	Enabled bool
}

// KafkaConfig holds the view-change notifier configuration
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Enabled      bool
	WriteTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string
	Format       string // "json" or "text"
	ScalyrFormat bool   // Enable Scalyr-compatible JSON format
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("DAT")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.datmind")
	viper.AddConfigPath("/etc/datmind")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	ledgerURL := getString("ledger_url", "http://localhost:7575")
	redisURL := getString("redis_url", "")
	databaseURL := getString("database_url", "")
	brokers := splitList(getString("kafka_brokers", ""))

	cfg := &Config{
		Ledger: LedgerConfig{
			URL:              ledgerURL,
			WebsocketURL:     getString("ledger_ws_url", websocketURL(ledgerURL)),
			Token:            getString("ledger_token", ""),
			JWTSecret:        getString("jwt_secret", ""),
			RequestTimeout:   GetDuration("ledger_request_timeout", 30*time.Second),
			ReconnectTimeout: GetDuration("ledger_reconnect_timeout", 5*time.Second),
			CommandRPS:       getFloat("command_rps", 5),
			CommandBurst:     getInt("command_burst", 10),
		},
		Session: SessionConfig{
			IdleTTL:     GetDuration("session_idle_ttl", 15*time.Minute),
			EventBuffer: getInt("session_event_buffer", 64),
		},
		Redis: RedisConfig{
			URL:     redisURL,
			Enabled: redisURL != "",
			ViewTTL: GetDuration("redis_view_ttl", 10*time.Minute),
		},
		Database: DatabaseConfig{
			URL:     databaseURL,
			Enabled: databaseURL != "",
		},
		Kafka: KafkaConfig{
			Brokers:      brokers,
			Topic:        getString("kafka_topic", "datmind-views"),
			Enabled:      len(brokers) > 0,
			WriteTimeout: GetDuration("kafka_write_timeout", 10*time.Second),
		},
		Server: ServerConfig{
			Port: getInt("http_server_port", 8080),
			Host: getString("http_server_host", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:        getString("log_level", "INFO"),
			Format:       getString("log_format", "json"),
			ScalyrFormat: getBool("log_scalyr_format", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", true),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			PrometheusPort:    getInt("prometheus_port", 9090),
			ServiceName:       getString("service_name", "datmind"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("ledger_url", "http://localhost:7575")
	viper.SetDefault("ledger_request_timeout", "30s")
	viper.SetDefault("ledger_reconnect_timeout", "5s")
	viper.SetDefault("command_rps", 5)
	viper.SetDefault("command_burst", 10)
	viper.SetDefault("session_idle_ttl", "15m")
	viper.SetDefault("session_event_buffer", 64)
	viper.SetDefault("redis_view_ttl", "10m")
	viper.SetDefault("kafka_topic", "datmind-views")
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "0.0.0.0")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("log_scalyr_format", true)
	viper.SetDefault("telemetry_enabled", true)
	viper.SetDefault("prometheus_enabled", true)
	viper.SetDefault("prometheus_port", 9090)
	viper.SetDefault("service_name", "datmind")
}

func getString(key, defaultValue string) string {
	// Environment wins over defaults registered with viper
	if val := os.Getenv("DAT_" + toEnvKey(key)); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if val := os.Getenv("DAT_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv("DAT_" + toEnvKey(key)); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if val := os.Getenv("DAT_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

func toEnvKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
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

// websocketURL maps an http(s) ledger URL onto its ws(s) counterpart
func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ledger.URL == "" {
		return fmt.Errorf("ledger_url is required")
	}
	if c.Ledger.WebsocketURL == "" {
		return fmt.Errorf("ledger_ws_url is required")
	}
	if c.Ledger.CommandRPS <= 0 {
		return fmt.Errorf("command_rps must be positive")
	}
	if c.Ledger.CommandBurst <= 0 || c.Ledger.CommandBurst > 1000 {
		return fmt.Errorf("command_burst must be between 1 and 1000")
	}
	if c.Session.EventBuffer <= 0 || c.Session.EventBuffer > 4096 {
		return fmt.Errorf("session_event_buffer must be between 1 and 4096")
	}
	if c.Session.IdleTTL < 0 {
		return fmt.Errorf("session_idle_ttl must not be negative")
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka_topic is required when kafka_brokers is set")
	}
	return nil
}

// GetDuration returns a duration from config key, with default
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv("DAT_" + toEnvKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return defaultValue
}
