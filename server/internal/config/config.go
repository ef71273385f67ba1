package config

import (
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPath         = "/"
	DefaultReadLimit    = 64 * 1024
	DefaultPingInterval = 54 * time.Second
	DefaultSendBuffer   = 16
	DefaultMetricsPath  = "/metrics"
	DefaultLogLevel     = "info"
	DefaultAuthHeader   = "x-api-key"
	minimumPingInterval = time.Second
	apiPrefix           = "/api/"
)

// Config holds the settings parsed from the `server:` section of the config file.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings. The launch fields mirror the
// command-line flags; pointers distinguish "absent" from a zero value.
type ServerConfig struct {
	// Address is the IPv4 bind address.
	Address string `yaml:"address"`

	// Port is the bind port.
	Port *uint16 `yaml:"port"`

	// CompressionLevel is forwarded to the runtime unchanged (default 1).
	CompressionLevel *int `yaml:"websocket_compression_level"`

	// CertFile and KeyFile enable wss:// when both are set.
	CertFile *string `yaml:"cert_file"`
	KeyFile  *string `yaml:"key_file"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Path is where the WebSocket endpoint is mounted (default "/").
	Path string `yaml:"path"`

	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// PingInterval controls how often ping frames are sent to clients.
	// Clients that miss a pong for 10/9 of this interval are dropped.
	PingInterval time.Duration `yaml:"ping_interval"`

	// SendBuffer is the per-client outgoing message queue depth.
	SendBuffer int `yaml:"send_buffer"`

	// RateLimit is the per-client inbound message rate in messages/s.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the limiter burst size. Defaults to max(1, RateLimit).
	RateBurst int `yaml:"rate_burst"`

	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig controls client authentication for upgrades and the status API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// EffectiveBurst returns RateBurst, or the rate rounded up when unset.
func (s ServerConfig) EffectiveBurst() int {
	if s.RateBurst > 0 {
		return s.RateBurst
	}
	if s.RateLimit < 1 {
		return 1
	}
	return int(math.Ceil(s.RateLimit))
}

// Level parses LogLevel into a slog.Level.
func (s ServerConfig) Level() slog.Level {
	lvl, _ := ParseLevel(s.LogLevel)
	return lvl
}

// ParseLevel maps debug|info|warn|error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q: want debug|info|warn|error", s)
	}
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:     DefaultLogLevel,
			Path:         DefaultPath,
			ReadLimit:    DefaultReadLimit,
			PingInterval: DefaultPingInterval,
			SendBuffer:   DefaultSendBuffer,
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
		},
	}
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation. Address and port may be left to the
// command line; Validate checks them once flags are merged.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validateFile(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// Validate checks the merged configuration, including required launch fields.
func Validate(cfg *Config) error {
	if err := validateFile(cfg); err != nil {
		return err
	}
	if cfg.Server.Address == "" {
		return fmt.Errorf("address is required")
	}
	if cfg.Server.Port == nil {
		return fmt.Errorf("port is required")
	}
	return nil
}

// BindAddress parses Address as an IPv4 address.
func (s ServerConfig) BindAddress() (netip.Addr, error) {
	a, err := netip.ParseAddr(s.Address)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("address %q: %w", s.Address, err)
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("address %q is not an IPv4 address", s.Address)
	}
	return a, nil
}

// validateFile checks structural constraints that do not depend on flags.
func validateFile(cfg *Config) error {
	s := cfg.Server
	if s.Address != "" {
		if _, err := s.BindAddress(); err != nil {
			return err
		}
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := validateMountPath("path", s.Path); err != nil {
		return err
	}
	if s.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive")
	}
	if s.PingInterval < minimumPingInterval {
		return fmt.Errorf("ping_interval must be at least %s", minimumPingInterval)
	}
	if s.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateBurst < 0 {
		return fmt.Errorf("rate_burst must not be negative")
	}
	if s.Metrics.Enabled {
		if err := validateMountPath("metrics.path", s.Metrics.Path); err != nil {
			return err
		}
		if s.Metrics.Path == s.Path {
			return fmt.Errorf("metrics.path and path must differ")
		}
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	return nil
}

// validateMountPath checks that p can be registered on the listener's mux next
// to the status API: an absolute path with no whitespace or {wildcards}, and
// outside /api/.
func validateMountPath(field, p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%s %q must start with /", field, p)
	}
	if strings.ContainsAny(p, " \t\r\n{}") {
		return fmt.Errorf("%s %q must not contain whitespace or braces", field, p)
	}
	if strings.HasPrefix(p, apiPrefix) {
		return fmt.Errorf("%s %q collides with the status API under %s", field, p, apiPrefix)
	}
	return nil
}
