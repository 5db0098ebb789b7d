package common

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment" yaml:"environment"` // "development" or "production"
	API         APIConfig      `toml:"api" yaml:"api"`
	Progress    ProgressConfig `toml:"progress" yaml:"progress"`
	Auth        AuthConfig     `toml:"auth" yaml:"auth"`
	Storage     StorageConfig  `toml:"storage" yaml:"storage"`
	Recent      RecentConfig   `toml:"recent" yaml:"recent"`
	Logging     LoggingConfig  `toml:"logging" yaml:"logging"`
}

// APIConfig describes where the processing backend lives
type APIConfig struct {
	BaseURL        string `toml:"base_url" yaml:"base_url"`               // e.g. "https://dishplay-backend.onrender.com"
	UploadPath     string `toml:"upload_path" yaml:"upload_path"`         // POST multipart upload
	ProgressPath   string `toml:"progress_path" yaml:"progress_path"`     // GET snapshot, suffixed with /{job_id}
	SocketPath     string `toml:"socket_path" yaml:"socket_path"`         // websocket, suffixed with /{job_id}
	ResultPath     string `toml:"result_path" yaml:"result_path"`         // GET persisted result, suffixed with /{job_id}
	RecentPath     string `toml:"recent_path" yaml:"recent_path"`         // GET recent jobs for the identity
	RequestTimeout string `toml:"request_timeout" yaml:"request_timeout"` // e.g. "30s"
}

// ProgressConfig holds the timings of the synchronization engine
type ProgressConfig struct {
	PollInterval       string `toml:"poll_interval" yaml:"poll_interval"`               // pull loop period while push is not open
	PingInterval       string `toml:"ping_interval" yaml:"ping_interval"`               // keepalive frame period while push is open
	ReconnectDelay     string `toml:"reconnect_delay" yaml:"reconnect_delay"`           // fixed delay between push reconnects
	MinDisplayDuration string `toml:"min_display_duration" yaml:"min_display_duration"` // floor before the terminal callback fires
	DialTimeout        string `toml:"dial_timeout" yaml:"dial_timeout"`                 // websocket handshake timeout
	MaxMessageBytes    int64  `toml:"max_message_bytes" yaml:"max_message_bytes"`       // read limit per websocket frame
}

// AuthConfig holds the static bearer credential used when no other provider is wired
type AuthConfig struct {
	Token  string `toml:"token" yaml:"token"`
	Expiry string `toml:"expiry" yaml:"expiry"` // RFC3339, empty = never expires
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path"`                         // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RecentConfig controls the recent-job cache
type RecentConfig struct {
	Capacity           int  `toml:"capacity" yaml:"capacity"`
	BootstrapOnStartup bool `toml:"bootstrap_on_startup" yaml:"bootstrap_on_startup"` // fetch the recent list once when the cache is empty
}

type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level"`             // "debug", "info", "warn", "error"
	Output     []string `toml:"output" yaml:"output"`           // "stdout", "file"
	TimeFormat string   `toml:"time_format" yaml:"time_format"` // default "15:04:05"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		API: APIConfig{
			BaseURL:        "http://localhost:3000",
			UploadPath:     "/api/menu/upload",
			ProgressPath:   "/api/menu/progress",
			SocketPath:     "/api/menu/ws/progress",
			ResultPath:     "/api/menu",
			RecentPath:     "/api/menu/user",
			RequestTimeout: "30s",
		},
		Progress: ProgressConfig{
			PollInterval:       "2s",
			PingInterval:       "30s",
			ReconnectDelay:     "3s",
			MinDisplayDuration: "3s",
			DialTimeout:        "10s",
			MaxMessageBytes:    1 << 20,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Recent: RecentConfig{
			Capacity:           3,
			BootstrapOnStartup: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MENULENS_ENV"); env != "" {
		config.Environment = env
	}

	// API configuration
	if baseURL := os.Getenv("MENULENS_API_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if timeout := os.Getenv("MENULENS_API_REQUEST_TIMEOUT"); timeout != "" {
		config.API.RequestTimeout = timeout
	}

	// Progress configuration
	if pollInterval := os.Getenv("MENULENS_PROGRESS_POLL_INTERVAL"); pollInterval != "" {
		config.Progress.PollInterval = pollInterval
	}
	if pingInterval := os.Getenv("MENULENS_PROGRESS_PING_INTERVAL"); pingInterval != "" {
		config.Progress.PingInterval = pingInterval
	}
	if reconnectDelay := os.Getenv("MENULENS_PROGRESS_RECONNECT_DELAY"); reconnectDelay != "" {
		config.Progress.ReconnectDelay = reconnectDelay
	}
	if minDisplay := os.Getenv("MENULENS_PROGRESS_MIN_DISPLAY_DURATION"); minDisplay != "" {
		config.Progress.MinDisplayDuration = minDisplay
	}
	if maxBytes := os.Getenv("MENULENS_PROGRESS_MAX_MESSAGE_BYTES"); maxBytes != "" {
		if mb, err := strconv.ParseInt(maxBytes, 10, 64); err == nil {
			config.Progress.MaxMessageBytes = mb
		}
	}

	// Auth configuration
	if token := os.Getenv("MENULENS_AUTH_TOKEN"); token != "" {
		config.Auth.Token = token
	}
	if expiry := os.Getenv("MENULENS_AUTH_EXPIRY"); expiry != "" {
		config.Auth.Expiry = expiry
	}

	// Storage configuration
	if badgerPath := os.Getenv("MENULENS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Recent cache configuration
	if capacity := os.Getenv("MENULENS_RECENT_CAPACITY"); capacity != "" {
		if c, err := strconv.Atoi(capacity); err == nil {
			config.Recent.Capacity = c
		}
	}
	if bootstrap := os.Getenv("MENULENS_RECENT_BOOTSTRAP"); bootstrap != "" {
		if b, err := strconv.ParseBool(bootstrap); err == nil {
			config.Recent.BootstrapOnStartup = b
		}
	}

	// Logging configuration
	if level := os.Getenv("MENULENS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MENULENS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, baseURL, logLevel string) {
	if baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate checks the resolved configuration before any component is built
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api.base_url %q: scheme must be http or https", c.API.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q: missing host", c.API.BaseURL)
	}

	durations := map[string]string{
		"progress.poll_interval":        c.Progress.PollInterval,
		"progress.ping_interval":        c.Progress.PingInterval,
		"progress.reconnect_delay":      c.Progress.ReconnectDelay,
		"progress.min_display_duration": c.Progress.MinDisplayDuration,
		"progress.dial_timeout":         c.Progress.DialTimeout,
		"api.request_timeout":           c.API.RequestTimeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		// A zero display floor is allowed, everything else must tick.
		if d < 0 || (d == 0 && key != "progress.min_display_duration") {
			return fmt.Errorf("invalid %s %q: must be positive", key, value)
		}
	}

	if c.Recent.Capacity <= 0 {
		return fmt.Errorf("invalid recent.capacity %d: must be positive", c.Recent.Capacity)
	}
	if c.Auth.Expiry != "" {
		if _, err := time.Parse(time.RFC3339, c.Auth.Expiry); err != nil {
			return fmt.Errorf("invalid auth.expiry %q: %w", c.Auth.Expiry, err)
		}
	}

	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
