// Package config loads and validates client config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the REST base URL of the forum backend (e.g. http://localhost:8081/api).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// ChatWSURL is the STOMP-over-WebSocket endpoint (e.g. ws://localhost:8081/ws).
	ChatWSURL string `mapstructure:"CHAT_WS_URL"`
	// HTTPTimeout bounds every REST call (e.g. "10s"). A timed out call is a network error, never an auth failure.
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// ChatSendTimeout bounds how long a live send waits for the broker's receipt before
	// falling back to REST.
	ChatSendTimeout string `mapstructure:"CHAT_SEND_TIMEOUT"`
	// ChatAwaitReceipt requests a STOMP receipt for live sends. Disable for brokers that
	// never issue receipts; a written frame then counts as delivered.
	ChatAwaitReceipt bool `mapstructure:"CHAT_AWAIT_RECEIPT"`
	// TypingIdle is the inactivity window after which typing-stop is emitted (e.g. "3s").
	TypingIdle string `mapstructure:"TYPING_IDLE"`
	// ReconnectDelay is the initial delay before a live channel reconnect attempt.
	ReconnectDelay string `mapstructure:"RECONNECT_DELAY"`
	// ReconnectMaxDelay caps the exponential reconnect backoff.
	ReconnectMaxDelay string `mapstructure:"RECONNECT_MAX_DELAY"`
	// MessagePageSize is the page size used when (re)fetching a room's messages.
	MessagePageSize int `mapstructure:"MESSAGE_PAGE_SIZE"`
	// LandingRoute is where the client is sent once the session has expired.
	LandingRoute string `mapstructure:"LANDING_ROUTE"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production"). Selects the log encoder.
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka brokers (e.g. "localhost:9092") that
	// receive chat telemetry events; empty disables the Kafka sink.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the topic for telemetry events (default forum-chat-events).
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`
	// LokiURL is the Loki base URL (e.g. http://localhost:3100) telemetry events are pushed to.
	LokiURL string `mapstructure:"LOKI_URL"`

	// DatabaseURL is the DSN of the optional message archive (postgres:// or sqlite3://path);
	// empty disables archiving.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "http://localhost:8081/api")
	v.SetDefault("CHAT_WS_URL", "ws://localhost:8081/ws")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("CHAT_SEND_TIMEOUT", "5s")
	v.SetDefault("CHAT_AWAIT_RECEIPT", true)
	v.SetDefault("TYPING_IDLE", "3s")
	v.SetDefault("RECONNECT_DELAY", "1s")
	v.SetDefault("RECONNECT_MAX_DELAY", "30s")
	v.SetDefault("MESSAGE_PAGE_SIZE", 100)
	v.SetDefault("LANDING_ROUTE", "/")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "forum-chat-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("DATABASE_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New("config: API_BASE_URL must be an absolute http(s) URL")
	}
	if cfg.ChatWSURL != "" {
		u, err := url.Parse(cfg.ChatWSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return nil, errors.New("config: CHAT_WS_URL must use ws:// or wss://")
		}
	}
	if _, _, err := cfg.OTLPTarget(); err != nil {
		return nil, err
	}
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = 100
	}
	if cfg.LandingRoute == "" {
		cfg.LandingRoute = "/"
	}

	return &cfg, nil
}

// RequestTimeout parses HTTPTimeout as a time.Duration. Returns 10s if unset or invalid.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.HTTPTimeout, 10*time.Second)
}

// SendTimeout parses ChatSendTimeout. Returns 5s if unset or invalid.
func (c *Config) SendTimeout() time.Duration {
	return parseDuration(c.ChatSendTimeout, 5*time.Second)
}

// TypingIdleWindow parses TypingIdle. Returns 3s if unset or invalid.
func (c *Config) TypingIdleWindow() time.Duration {
	return parseDuration(c.TypingIdle, 3*time.Second)
}

// ReconnectBackoff returns the initial and maximum reconnect delays.
func (c *Config) ReconnectBackoff() (initial, max time.Duration) {
	initial = parseDuration(c.ReconnectDelay, time.Second)
	max = parseDuration(c.ReconnectMaxDelay, 30*time.Second)
	if max < initial {
		max = initial
	}
	return initial, max
}

// Brokers splits KafkaBrokers, dropping blanks.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// OTLPTarget returns the collector's host:port for the gRPC exporters and whether to dial
// it without TLS. The endpoint may be a bare host:port or a URL whose path is ignored;
// only https URLs use TLS unless OTLPInsecure is set. An empty target disables export.
func (c *Config) OTLPTarget() (target string, insecure bool, err error) {
	endpoint := strings.TrimSpace(c.OTLPEndpoint)
	if endpoint == "" {
		return "", false, nil
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("config: invalid OTEL_EXPORTER_OTLP_ENDPOINT %q: %w", c.OTLPEndpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("config: OTEL_EXPORTER_OTLP_ENDPOINT %q has no host", c.OTLPEndpoint)
	}
	return u.Host, c.OTLPInsecure || u.Scheme != "https", nil
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
