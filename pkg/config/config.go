// Package config loads the client configuration: a YAML file with
// environment-variable expansion, environment overrides, defaults merged in,
// and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	// APIURL is the base URL of the pipeline server's REST API.
	APIURL string `yaml:"api_url"`
	// SocketURL is the WebSocket endpoint for the live event stream.
	SocketURL string `yaml:"socket_url"`

	Auth      AuthConfig      `yaml:"auth"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	StatusAPI StatusAPIConfig `yaml:"status_api"`
}

// AuthConfig describes the external identity provider. An empty ProviderURL
// means none is configured and the fixed local-development identity applies,
// with all features enabled.
type AuthConfig struct {
	ProviderURL string `yaml:"provider_url,omitempty"`
	TokenEnv    string `yaml:"token_env,omitempty"` // defaults to "PIPEWATCH_TOKEN"
}

// Configured reports whether an external identity provider is set up.
func (a AuthConfig) Configured() bool { return a.ProviderURL != "" }

// Token resolves the bearer token from the environment. Empty when no
// provider is configured (local development identity).
func (a AuthConfig) Token() string {
	if !a.Configured() {
		return ""
	}
	env := a.TokenEnv
	if env == "" {
		env = "PIPEWATCH_TOKEN"
	}
	return os.Getenv(env)
}

// TransportConfig holds socket timing settings as duration strings.
type TransportConfig struct {
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
	ReconnectDelay    string `yaml:"reconnect_delay,omitempty"`

	heartbeat time.Duration
	reconnect time.Duration
}

// Heartbeat returns the parsed heartbeat interval.
func (t TransportConfig) Heartbeat() time.Duration { return t.heartbeat }

// Reconnect returns the parsed fixed reconnect delay.
func (t TransportConfig) Reconnect() time.Duration { return t.reconnect }

// SessionConfig holds local session persistence settings.
type SessionConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
}

// StatusAPIConfig holds the local read-only status endpoint settings.
type StatusAPIConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// On reports whether the status API should be served.
func (s StatusAPIConfig) On() bool { return s.Enabled == nil || *s.Enabled }

func defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Transport: TransportConfig{
			HeartbeatInterval: "30s",
			ReconnectDelay:    "3s",
		},
		Session: SessionConfig{
			DBPath: filepath.Join(home, ".pipewatch", "session.db"),
		},
		StatusAPI: StatusAPIConfig{
			ListenAddr: "127.0.0.1:8799",
		},
	}
}

// Load reads the config file at path (optional — a missing file just means
// defaults), expands ${VAR} references, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else {
			expanded := os.ExpandEnv(string(raw))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	def := defaults()
	if err := mergo.Merge(&cfg, def); err != nil {
		return nil, fmt.Errorf("merge config defaults: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets environment variables beat file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIPEWATCH_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("PIPEWATCH_SOCKET_URL"); v != "" {
		cfg.SocketURL = v
	}
	if v := os.Getenv("PIPEWATCH_SESSION_DB"); v != "" {
		cfg.Session.DBPath = v
	}
	if v := os.Getenv("PIPEWATCH_STATUS_ADDR"); v != "" {
		cfg.StatusAPI.ListenAddr = v
	}
	if v := os.Getenv("PIPEWATCH_AUTH_PROVIDER_URL"); v != "" {
		cfg.Auth.ProviderURL = v
	}
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required (set it in the config file or PIPEWATCH_API_URL)")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("socket_url is required (set it in the config file or PIPEWATCH_SOCKET_URL)")
	}

	var err error
	c.Transport.heartbeat, err = time.ParseDuration(c.Transport.HeartbeatInterval)
	if err != nil {
		return fmt.Errorf("invalid transport.heartbeat_interval %q: %w", c.Transport.HeartbeatInterval, err)
	}
	c.Transport.reconnect, err = time.ParseDuration(c.Transport.ReconnectDelay)
	if err != nil {
		return fmt.Errorf("invalid transport.reconnect_delay %q: %w", c.Transport.ReconnectDelay, err)
	}
	if c.Transport.heartbeat <= 0 || c.Transport.reconnect <= 0 {
		return fmt.Errorf("transport intervals must be positive")
	}
	return nil
}
