// Package config persists the client settings needed to reach a chat hub:
// the server URL, the user the client acts as and its auth token.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/hubchat/hub"
)

const (
	// DefaultServerURL is used when no server URL is configured.
	DefaultServerURL = "http://localhost:8080/api"

	fileName = "config.yaml"
	dirName  = "hubchat"
)

var (
	// ErrLoginNotComplete is returned by Validate when the user id or the
	// auth token is missing.
	ErrLoginNotComplete = errors.New("config: login not complete")

	// ErrTokenExpired is returned by Validate when the auth token's expiry
	// is in the past.
	ErrTokenExpired = errors.New("config: auth token expired")
)

// ClientConfig is the on-disk client configuration.
type ClientConfig struct {
	UserID    hub.ID `yaml:"user_id"`
	AuthToken string `yaml:"auth_token"`
	// TokenExpires is the token expiry in Unix milliseconds; zero means
	// the token does not expire.
	TokenExpires int64  `yaml:"token_expires"`
	ServerURL    string `yaml:"server_url"`
}

// New returns a configuration pointing at DefaultServerURL.
func New() *ClientConfig {
	return &ClientConfig{ServerURL: DefaultServerURL}
}

// DefaultPath returns the config file location under the user's config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate user config directory")
	}
	return filepath.Join(dir, dirName, fileName), nil
}

// Load reads the configuration at path. A missing file yields the
// defaults.
func Load(path string) (*ClientConfig, error) {
	cfg := New()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %q", path)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %q", path)
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		cfg.ServerURL = DefaultServerURL
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories. The
// file holds a token and is only readable by its owner.
func (c *ClientConfig) Save(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "create config directory for %q", path)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return errors.Wrapf(err, "write config %q", path)
	}
	return nil
}

// ApplyEnv overrides fields from HUBCHAT_SERVER_URL, HUBCHAT_USER_ID,
// HUBCHAT_AUTH_TOKEN and HUBCHAT_TOKEN_EXPIRES. Malformed values are
// reported rather than ignored.
func (c *ClientConfig) ApplyEnv() error {
	if v := os.Getenv("HUBCHAT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}

	if v := os.Getenv("HUBCHAT_USER_ID"); v != "" {
		id, err := hub.ParseID(v)
		if err != nil {
			return errors.Wrap(err, "HUBCHAT_USER_ID")
		}
		c.UserID = id
	}

	if v := os.Getenv("HUBCHAT_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}

	if v := os.Getenv("HUBCHAT_TOKEN_EXPIRES"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return errors.Errorf("HUBCHAT_TOKEN_EXPIRES: invalid unix milliseconds %q", v)
		}
		c.TokenExpires = ms
	}
	return nil
}

// FromEnv loads path (if non-empty) and applies the environment on top.
func FromEnv(path string) (*ClientConfig, error) {
	cfg := New()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Expiry returns the token expiry, or the zero time if it never expires.
func (c *ClientConfig) Expiry() time.Time {
	if c.TokenExpires == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.TokenExpires)
}

// Validate reports whether the configuration can be used to talk to the
// server at now.
func (c *ClientConfig) Validate(now time.Time) error {
	if _, err := c.APIURL(); err != nil {
		return err
	}
	if c.UserID == hub.Nil || c.AuthToken == "" {
		return ErrLoginNotComplete
	}
	if exp := c.Expiry(); !exp.IsZero() && !now.Before(exp) {
		return errors.Wrapf(ErrTokenExpired, "expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// APIURL returns the REST base URL without a trailing slash.
func (c *ClientConfig) APIURL() (string, error) {
	raw := strings.TrimSpace(c.ServerURL)
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "config: invalid server url %q", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Errorf("config: server url %q must use http or https", c.ServerURL)
	}
	if u.Host == "" {
		return "", errors.Errorf("config: server url %q has no host", c.ServerURL)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
