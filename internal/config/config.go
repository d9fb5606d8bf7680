package config

import (
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/pinus"
	"github.com/vango-dev/pinus/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "pinus.toml"

	// DefaultHost is the default server host.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the default connector port.
	DefaultPort = 3010

	// DefaultMetricsNamespace is the default Prometheus namespace.
	DefaultMetricsNamespace = "pinus"

	// EnvURL overrides server.url when set.
	EnvURL = "PINUS_URL"
)

// Config represents the complete pinus.toml configuration.
type Config struct {
	// Server is the connector address.
	Server ServerConfig `toml:"server"`

	// Client contains connection behavior.
	Client ClientConfig `toml:"client"`

	// Handshake is the client section of the handshake request.
	Handshake HandshakeConfig `toml:"handshake"`

	// Metrics contains the metrics endpoint configuration.
	Metrics MetricsConfig `toml:"metrics"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains the server address.
type ServerConfig struct {
	// URL is the full address. When set, Host, Port, Path and Secure are ignored.
	URL string `toml:"url,omitempty"`

	// Host is the connector host.
	Host string `toml:"host,omitempty"`

	// Port is the connector port.
	Port int `toml:"port,omitempty"`

	// Path is the WebSocket path, if the connector mounts one.
	Path string `toml:"path,omitempty"`

	// Secure selects wss://.
	Secure bool `toml:"secure,omitempty"`
}

// ClientConfig contains connection behavior.
type ClientConfig struct {
	// ConnectTimeout bounds dial plus handshake (e.g., "8s").
	ConnectTimeout string `toml:"connect_timeout,omitempty"`

	// RequestTimeout bounds each request (e.g., "5s").
	RequestTimeout string `toml:"request_timeout,omitempty"`

	// StrictSchema rejects routes without a client schema.
	StrictSchema bool `toml:"strict_schema,omitempty"`

	// Compress gzips large outbound bodies.
	Compress bool `toml:"compress,omitempty"`
}

// HandshakeConfig contains handshake fields.
type HandshakeConfig struct {
	// Type is sent as sys.type.
	Type string `toml:"type,omitempty"`

	// Version is sent as sys.version.
	Version string `toml:"version,omitempty"`

	// User is passed to the server's handshake handler.
	User map[string]any `toml:"user,omitempty"`
}

// MetricsConfig contains the metrics endpoint configuration.
type MetricsConfig struct {
	// Addr serves /metrics and /healthz when non-empty (e.g., ":9100").
	Addr string `toml:"addr,omitempty"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Client: ClientConfig{
			ConnectTimeout: pinus.DefaultConnectTimeout.String(),
		},
		Metrics: MetricsConfig{
			Namespace: DefaultMetricsNamespace,
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for pinus.toml in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. Keys the
// schema does not know are rejected.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigMissing).
				WithDetail("No " + ConfigFileName + " found at " + path)
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	cfg := New()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.New(errors.CodeConfigParse).
			WithDetail("Failed to parse " + path).
			Wrap(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, errors.New(errors.CodeConfigInvalid).
			WithDetail("Unknown keys in " + path + ": " + strings.Join(keys, ", "))
	}

	cfg.configPath = path
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkingDir loads pinus.toml from the working directory, falling
// back to defaults when there is none.
func LoadFromWorkingDir() (*Config, error) {
	cfg, err := Load(".")
	if err == nil {
		return cfg, nil
	}
	if pe, ok := err.(*errors.PinusError); ok && pe.Code == errors.CodeConfigMissing {
		cfg = New()
		cfg.applyEnv()
		return cfg, nil
	}
	return nil, err
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) applyEnv() {
	if url := os.Getenv(EnvURL); url != "" {
		c.Server.URL = url
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("server.port must be between 0 and 65535")
	}
	if c.Server.URL == "" && c.Server.Host == "" {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("Set server.url or server.host")
	}
	if _, err := c.ConnectTimeout(); err != nil {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("client.connect_timeout: " + err.Error())
	}
	if _, err := c.RequestTimeout(); err != nil {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("client.request_timeout: " + err.Error())
	}
	return nil
}

// ConnectTimeout parses client.connect_timeout. Empty means the default.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	return parseDuration(c.Client.ConnectTimeout)
}

// RequestTimeout parses client.request_timeout. Empty means no timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return parseDuration(c.Client.RequestTimeout)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Newf(errors.CategoryConfig, "negative duration %q", s)
	}
	return d, nil
}

// ClientConfig converts the file into a client configuration. Call
// Validate first; unparseable durations fall back to defaults.
func (c *Config) ClientConfig() pinus.Config {
	cfg := pinus.DefaultConfig()
	cfg.URL = c.Server.URL
	cfg.Host = c.Server.Host
	cfg.Port = c.Server.Port
	cfg.Path = c.Server.Path
	cfg.Secure = c.Server.Secure
	if d, err := c.ConnectTimeout(); err == nil && d > 0 {
		cfg.ConnectTimeout = d
	}
	if d, err := c.RequestTimeout(); err == nil {
		cfg.RequestTimeout = d
	}
	cfg.StrictSchema = c.Client.StrictSchema
	cfg.Compress = c.Client.Compress
	if c.Handshake.Type != "" {
		cfg.Handshake.ClientType = c.Handshake.Type
	}
	if c.Handshake.Version != "" {
		cfg.Handshake.Version = c.Handshake.Version
	}
	if c.Handshake.User != nil {
		cfg.Handshake.User = maps.Clone(c.Handshake.User)
	}
	return cfg
}
