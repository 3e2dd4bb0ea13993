// Package config provides TOML configuration file loading for the client.
// The configuration file lives at ~/.claudeconnect/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
//
// Credentials (server URL, pairing id, reconnection token, client id) are not
// configuration: they live in the credential store and change at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration file structure.
// Durations are written as Go duration strings ("30s", "3m").
type Config struct {
	// DataDir holds the credential store and other state.
	// Default: ~/.claudeconnect
	DataDir string `toml:"data_dir"`

	// Store is the path to the SQLite database for credentials and the diagnostic log.
	// Default: <data_dir>/claudeconnect.db
	Store string `toml:"store"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFormat is console or json.
	// Default: console
	LogFormat string `toml:"log_format"`

	// LogFile optionally mirrors process logs to a file.
	LogFile string `toml:"log_file"`

	// KeepAliveInterval is the period of the liveness probe while backgrounded.
	// Default: 30s
	KeepAliveInterval string `toml:"keepalive_interval"`

	// PingTimeout bounds how long a liveness probe waits for the pong.
	// Default: 10s
	PingTimeout string `toml:"ping_timeout"`

	// ConnectivityWait is how long a dial keeps retrying transient
	// DNS/route failures before giving up.
	// Default: 10s
	ConnectivityWait string `toml:"connectivity_wait"`

	// HandshakeTimeout bounds a single WebSocket opening handshake.
	// Default: 10s
	HandshakeTimeout string `toml:"handshake_timeout"`

	// WriteTimeout bounds each frame write.
	// Default: 10s
	WriteTimeout string `toml:"write_timeout"`

	// AuthTimeout bounds the wait for an auth reply. "0s" disables it.
	// Default: 0s
	AuthTimeout string `toml:"auth_timeout"`

	// BackgroundBudget is the extra execution time granted after the app
	// moves to the background.
	// Default: 3m
	BackgroundBudget string `toml:"background_budget"`

	// DiscoveryTimeout bounds mDNS browsing.
	// Default: 3s
	DiscoveryTimeout string `toml:"discovery_timeout"`

	// AutoConnect connects at startup when stored credentials exist.
	// Default: true
	AutoConnect *bool `toml:"auto_connect"`

	// AutoListRepos requests the repository list right after authentication.
	// Default: true
	AutoListRepos *bool `toml:"auto_list_repos"`

	// LogLimit caps the diagnostic log.
	// Default: 500
	LogLimit int `toml:"log_limit"`

	// TLSCert pins the host certificate for wss:// connections to
	// self-signed companion servers. Empty uses the system roots.
	TLSCert string `toml:"tls_cert"`
}

// DefaultDataDir returns ~/.claudeconnect.
// Returns an error only if the user's home directory cannot be determined.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// DefaultConfigPath returns the default config file location: ~/.claudeconnect/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault creates a config file with commented defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# claudeconnect configuration

# Liveness probe period while the app is in the background
keepalive_interval = %q

# Keep retrying DNS/route failures this long before failing a connect
connectivity_wait = %q

# Connect on startup when credentials are stored
auto_connect = true

# Fetch the repository list right after authenticating
auto_list_repos = true

log_level = "info"
`, DefaultKeepAliveInterval.String(), DefaultConnectivityWait.String())

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed, or if a
//     duration field is not a valid duration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that every duration field parses.
func (c *Config) Validate() error {
	fields := map[string]string{
		"keepalive_interval": c.KeepAliveInterval,
		"ping_timeout":       c.PingTimeout,
		"connectivity_wait":  c.ConnectivityWait,
		"handshake_timeout":  c.HandshakeTimeout,
		"write_timeout":      c.WriteTimeout,
		"auth_timeout":       c.AuthTimeout,
		"background_budget":  c.BackgroundBudget,
		"discovery_timeout":  c.DiscoveryTimeout,
	}
	for name, raw := range fields {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	if c.LogLimit < 0 {
		return fmt.Errorf("log_limit: must not be negative")
	}
	return nil
}

// ResolvedDataDir returns DataDir or the default data directory.
func (c *Config) ResolvedDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return DefaultDataDir()
}

// ResolvedStore returns Store or <data_dir>/claudeconnect.db.
func (c *Config) ResolvedStore() (string, error) {
	if c.Store != "" {
		return c.Store, nil
	}
	dir, err := c.ResolvedDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultStoreName), nil
}

// KeepAlive returns the keep-alive interval or its default.
func (c *Config) KeepAlive() time.Duration {
	return durationOr(c.KeepAliveInterval, DefaultKeepAliveInterval)
}

// Ping returns the liveness probe timeout or its default.
func (c *Config) Ping() time.Duration {
	return durationOr(c.PingTimeout, DefaultPingTimeout)
}

// Connectivity returns the connectivity wait or its default.
func (c *Config) Connectivity() time.Duration {
	return durationOr(c.ConnectivityWait, DefaultConnectivityWait)
}

// Handshake returns the handshake timeout or its default.
func (c *Config) Handshake() time.Duration {
	return durationOr(c.HandshakeTimeout, DefaultHandshakeTimeout)
}

// Write returns the write timeout or its default.
func (c *Config) Write() time.Duration {
	return durationOr(c.WriteTimeout, DefaultWriteTimeout)
}

// Auth returns the auth reply timeout. Zero means no timeout.
func (c *Config) Auth() time.Duration {
	return durationOr(c.AuthTimeout, 0)
}

// Background returns the background execution budget or its default.
func (c *Config) Background() time.Duration {
	return durationOr(c.BackgroundBudget, DefaultBackgroundBudget)
}

// Discovery returns the mDNS browse timeout or its default.
func (c *Config) Discovery() time.Duration {
	return durationOr(c.DiscoveryTimeout, DefaultDiscoveryTimeout)
}

// AutoConnectEnabled reports whether startup auto-connect is on (default true).
func (c *Config) AutoConnectEnabled() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// AutoListReposEnabled reports whether the repository list is requested after auth (default true).
func (c *Config) AutoListReposEnabled() bool {
	return c.AutoListRepos == nil || *c.AutoListRepos
}

// Limit returns the diagnostic log cap or its default.
func (c *Config) Limit() int {
	if c.LogLimit > 0 {
		return c.LogLimit
	}
	return DefaultLogLimit
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
