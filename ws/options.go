package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds session settings. Zero or negative durations and sizes are
// replaced with defaults.
type Config struct {
	// HandshakeTimeout bounds the WebSocket upgrade and the wait for the
	// server's answer to the identity frame.
	HandshakeTimeout time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long a running dispatch loop may go without hearing
	// from the server before its read fails. Only enforced when keepalive
	// pings are enabled; an idle session has no deadline.
	PongWait time.Duration
	// PingInterval is the keepalive ping period. Must be less than
	// PongWait; a negative value disables keepalive.
	PingInterval time.Duration
	// MaxFrameSize limits inbound frames.
	MaxFrameSize int64
	// AuthHeader sends the identity in an Authorization header on the
	// upgrade request in addition to the identity frame.
	AuthHeader bool

	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
	Dialer     *websocket.Dialer
}

func defaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     54 * time.Second,
		MaxFrameSize:     1 << 20,
		AuthHeader:       true,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	return cfg
}

func (cfg Config) logger() zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return log.Logger
}

// Option configures a Session.
type Option func(*Config)

func newConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return sanitizeConfig(cfg)
}

// WithConfig replaces every setting at once.
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		*cfg = c
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.HandshakeTimeout = d
	}
}

func WithWriteWait(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.WriteWait = d
	}
}

// WithKeepalive sets the ping period and the silence allowed before the
// connection is considered dead. A negative ping period disables pings.
func WithKeepalive(ping, pongWait time.Duration) Option {
	return func(cfg *Config) {
		cfg.PingInterval = ping
		cfg.PongWait = pongWait
	}
}

func WithMaxFrameSize(n int64) Option {
	return func(cfg *Config) {
		cfg.MaxFrameSize = n
	}
}

// WithAuthHeader controls whether the identity is also sent in the
// Authorization header of the upgrade request.
func WithAuthHeader(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AuthHeader = enabled
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = &l
	}
}

// WithRegisterer registers session metrics with reg. Sessions sharing a
// registerer share collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *Config) {
		cfg.Registerer = reg
	}
}

// WithDialer overrides the WebSocket dialer, e.g. to set TLS options.
func WithDialer(d *websocket.Dialer) Option {
	return func(cfg *Config) {
		cfg.Dialer = d
	}
}
