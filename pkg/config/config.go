// Package config provides unified configuration for the omnigate gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (OMNIGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"net"
	"strconv"
	"time"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "omnigate"

// Config holds all configuration for the omnigate gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	SOAP          SOAPConfig          `yaml:"soap"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	NATS          NATSConfig          `yaml:"nats"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`                                   // default: "0.0.0.0"
	Port              int           `yaml:"port"`                                   // default: 8000
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true"`    // default: 30s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true"` // default: 10s
	MaxBodySize       int64         `yaml:"max_body_size" split_words:"true"`       // default: 10 MB
	AllowedOrigins    []string      `yaml:"allowed_origins" split_words:"true"`     // WebSocket origins, empty allows any
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SOAPConfig holds settings of the SOAP codec and the standalone SOAP server.
type SOAPConfig struct {
	Port      int    `yaml:"port"`      // default: 8001
	Namespace string `yaml:"namespace"` // default: "soap.example"
}

// DispatchConfig bounds handler concurrency and execution time.
type DispatchConfig struct {
	MaxInFlight    int           `yaml:"max_in_flight" split_words:"true"`   // default: 64
	MaxQueued      int           `yaml:"max_queued" split_words:"true"`      // default: 128
	QueueTimeout   time.Duration `yaml:"queue_timeout" split_words:"true"`   // default: 2s
	HandlerTimeout time.Duration `yaml:"handler_timeout" split_words:"true"` // default: 30s
	StreamTimeout  time.Duration `yaml:"stream_timeout" split_words:"true"`  // default: 10m
	EncodeRetries  int           `yaml:"encode_retries" split_words:"true"`  // default: 2
}

// SessionLimits are the per-session outbound queue settings. In the ws and
// sse overrides, zero fields inherit the session defaults.
type SessionLimits struct {
	QueueSize    int           `yaml:"queue_size" split_words:"true"`
	Policy       string        `yaml:"policy"` // "block", "drop_oldest" or "drop_newest"
	BlockTimeout time.Duration `yaml:"block_timeout" split_words:"true"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" split_words:"true"`
}

// SessionsConfig holds settings for long-lived WebSocket and SSE sessions.
type SessionsConfig struct {
	SessionLimits `yaml:",inline"`

	MaxSessions  int           `yaml:"max_sessions" split_words:"true"`  // default: 10000, 0 is unlimited
	ReapInterval time.Duration `yaml:"reap_interval" split_words:"true"` // default: 10s
	PingInterval time.Duration `yaml:"ping_interval" split_words:"true"` // WebSocket ping, default: 30s
	KeepAlive    time.Duration `yaml:"keep_alive" split_words:"true"`    // SSE comment, default: 15s

	WS  SessionLimits `yaml:"ws"`
	SSE SessionLimits `yaml:"sse"`
}

// For returns the effective limits of a session type: the override's
// non-zero fields over the defaults.
func (s SessionsConfig) For(override SessionLimits) SessionLimits {
	out := s.SessionLimits
	if override.QueueSize > 0 {
		out.QueueSize = override.QueueSize
	}
	if override.Policy != "" {
		out.Policy = override.Policy
	}
	if override.BlockTimeout > 0 {
		out.BlockTimeout = override.BlockTimeout
	}
	if override.IdleTimeout > 0 {
		out.IdleTimeout = override.IdleTimeout
	}
	return out
}

// AuthConfig holds authentication and rate limiting settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`                    // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys" ignored:"true"` // see OMNIGATE_AUTH_API_KEYS
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
	// Bypass lists paths served without authentication. A trailing slash
	// matches the whole subtree.
	Bypass []string `yaml:"bypass"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key      string   `yaml:"key" json:"key"`
	KeyFile  string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject  string   `yaml:"subject" json:"subject"`
	TenantID string   `yaml:"tenant_id" json:"tenant_id"`
	Tier     string   `yaml:"tier" json:"tier"`
	Scopes   []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds HMAC bearer token settings.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file" split_words:"true"` // _file variant for secret
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	Leeway     time.Duration `yaml:"leeway"`
}

// TierConfig is a token bucket.
type TierConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" split_words:"true"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Default TierConfig            `yaml:"default"`
	Tiers   map[string]TierConfig `yaml:"tiers" ignored:"true"`
}

// StorageConfig holds webhook delivery storage settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`                        // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size" split_words:"true"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file" split_words:"true"`          // _file variant for dsn
	MaxConns        int32         `yaml:"max_conns" split_words:"true"`         // default: 10
	MinConns        int32         `yaml:"min_conns" split_words:"true"`         // default: 1
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" split_words:"true"` // default: 5m
	MigrateOnStart  bool          `yaml:"migrate_on_start" split_words:"true"`  // default: false
}

// NATSConfig holds the NATS connection used for JSON-RPC request/reply and
// webhook event publishing. NATS is off unless URL is set or Embedded is
// true.
type NATSConfig struct {
	URL string `yaml:"url"`
	// Embedded starts an in-process NATS server and connects to it.
	Embedded     bool   `yaml:"embedded"`
	EmbeddedPort int    `yaml:"embedded_port" split_words:"true"` // default: 4222
	Subject      string `yaml:"subject"`                          // default: "omnigate.rpc"
	QueueGroup   string `yaml:"queue_group" split_words:"true"`   // default: "omnigate"
	EventSubject string `yaml:"event_subject" split_words:"true"` // default: "omnigate.webhook"
	Name         string `yaml:"name"`                             // client connection name, default: "omnigate"
}

// Enabled reports whether NATS is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != "" || n.Embedded
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log settings. OMNIGATE_DEBUG, OMNIGATE_LOG_LEVEL and
// OMNIGATE_LOG_FORMAT take precedence, see pkg/debug.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "TRACE", "DEBUG", "INFO", "WARN" or "ERROR", default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			ShutdownTimeout:   30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxBodySize:       10 << 20,
		},
		SOAP: SOAPConfig{
			Port:      8001,
			Namespace: "soap.example",
		},
		Dispatch: DispatchConfig{
			MaxInFlight:    64,
			MaxQueued:      128,
			QueueTimeout:   2 * time.Second,
			HandlerTimeout: 30 * time.Second,
			StreamTimeout:  10 * time.Minute,
			EncodeRetries:  2,
		},
		Sessions: SessionsConfig{
			SessionLimits: SessionLimits{
				QueueSize:    64,
				Policy:       "block",
				BlockTimeout: 5 * time.Second,
				IdleTimeout:  5 * time.Minute,
			},
			MaxSessions:  10000,
			ReapInterval: 10 * time.Second,
			PingInterval: 30 * time.Second,
			KeepAlive:    15 * time.Second,
		},
		Auth: AuthConfig{
			Type:   "none",
			Bypass: []string{"/healthz", "/readyz", "/metrics"},
			RateLimit: RateLimitConfig{
				Default: TierConfig{RequestsPerSecond: 50, Burst: 100},
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns:        10,
				MinConns:        1,
				MaxConnLifetime: 5 * time.Minute,
			},
		},
		NATS: NATSConfig{
			EmbeddedPort: 4222,
			Subject:      "omnigate.rpc",
			QueueGroup:   "omnigate",
			EventSubject: "omnigate.webhook",
			Name:         "omnigate",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
