package fakehub

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RateLimitConfig defines per-connection command rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server settings.
type Config struct {
	Addr string
	// AllowedOrigins restricts browser upgrades; "*" allows any origin.
	// Requests without an Origin header are not browsers and are always
	// accepted.
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	// HandshakeTimeout bounds the wait for the identity frame.
	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration
	// PingInterval is how often the hub pings each client. A client is
	// dropped when neither a pong nor a ping of its own arrives within
	// PongWait, so idle clients stay connected as long as they ping.
	PingInterval time.Duration
	PongWait     time.Duration

	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
}

const (
	defaultAddr             = ":8080"
	defaultMaxMessageSize   = 64 << 10
	defaultBurst            = 20
	defaultHandshakeTimeout = 10 * time.Second
	defaultShutdownTimeout  = 5 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultPingInterval     = (defaultPongWait * 9) / 10
)

func defaultConfig() Config {
	return Config{
		Addr:           defaultAddr,
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		HandshakeTimeout: defaultHandshakeTimeout,
		ShutdownTimeout:  defaultShutdownTimeout,
		PingInterval:     defaultPingInterval,
		PongWait:         defaultPongWait,
	}
}

// NewConfig returns a Config populated with defaults.
func NewConfig() Config {
	return defaultConfig()
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func (cfg Config) logger() zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return log.Logger
}

// NewConfigFromEnv overlays FAKEHUB_ADDR, FAKEHUB_ALLOWED_ORIGINS,
// FAKEHUB_MAX_MESSAGE_SIZE, FAKEHUB_RATE_LIMIT_BURST and
// FAKEHUB_RATE_LIMIT_REFILL_INTERVAL (seconds) on the defaults. Malformed
// values keep the default.
func NewConfigFromEnv() Config {
	cfg := defaultConfig()

	if addr := os.Getenv("FAKEHUB_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if origins := os.Getenv("FAKEHUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if size := os.Getenv("FAKEHUB_MAX_MESSAGE_SIZE"); size != "" {
		cfg.MaxMessageSize = parsePositiveInt64(size, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("FAKEHUB_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = int(parsePositiveInt64(burst, int64(cfg.RateLimit.Burst)))
	}
	if interval := os.Getenv("FAKEHUB_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		secs := parsePositiveInt64(interval, 0)
		if secs > 0 {
			cfg.RateLimit.RefillInterval = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parsePositiveInt64(value string, fallback int64) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && n > 0 {
		return n
	}
	return fallback
}
