package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/message"
)

// Config holds the application configuration
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Feed       FeedConfig       `yaml:"feed"`
	Store      StoreConfig      `yaml:"store"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Health     HealthConfig     `yaml:"health"`
	Log        LogConfig        `yaml:"log"`
}

// BackendConfig locates the chat backend
type BackendConfig struct {
	URL                   string `yaml:"url"`
	WSPath                string `yaml:"ws_path"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// ChannelsConfig holds the channels offered when nothing is persisted yet
type ChannelsConfig struct {
	Twitch []string `yaml:"twitch"`
	Kick   []string `yaml:"kick"`
}

// FeedConfig tunes the message feed
type FeedConfig struct {
	MaxMessages          int     `yaml:"max_messages"`
	BufferedMessageLimit int     `yaml:"buffered_message_limit"`
	UnreadDisplayCap     int     `yaml:"unread_display_cap"`
	BottomEpsilon        float64 `yaml:"bottom_epsilon"`
	ScrollSuppressMS     int     `yaml:"scroll_suppress_ms"`
}

// StoreConfig selects where session state is persisted
type StoreConfig struct {
	Driver              string   `yaml:"driver"` // file, sqlite, s3 or memory
	Path                string   `yaml:"path"`
	Key                 string   `yaml:"key"`
	FlushMS             int      `yaml:"flush_ms"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	S3                  S3Config `yaml:"s3"`
}

// S3Config holds S3 storage configuration
type S3Config struct {
	Bucket               string `yaml:"bucket"`
	Region               string `yaml:"region"`
	Prefix               string `yaml:"prefix"`
	Endpoint             string `yaml:"endpoint"`                // For S3-compatible services
	RoleARN              string `yaml:"role_arn"`                // IAM role ARN for OIDC authentication
	WebIdentityTokenFile string `yaml:"web_identity_token_file"` // OIDC token mounted by the platform
	AccessKeyID          string `yaml:"access_key_id"`           // Legacy: static credentials
	SecretAccessKey      string `yaml:"secret_access_key"`       // Legacy: static credentials
}

// TranscriptConfig holds chat transcript export configuration
type TranscriptConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
}

// HealthConfig enables the local status server
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Store drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.Channels.Twitch = channel.NormalizeList(cfg.Channels.Twitch, message.Twitch)
	cfg.Channels.Kick = channel.NormalizeList(cfg.Channels.Kick, message.Kick)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Apply environment variable overrides
func (c *Config) applyEnv() {
	if v := os.Getenv("COMBINEDCHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("COMBINEDCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("COMBINEDCHAT_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("COMBINEDCHAT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		c.Store.S3.RoleARN = roleARN
	}
	if tokenFile := os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE"); tokenFile != "" {
		c.Store.S3.WebIdentityTokenFile = tokenFile
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		c.Store.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		c.Store.S3.SecretAccessKey = secretKey
	}
}

func (c *Config) applyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:8000"
	}
	if c.Backend.WSPath == "" {
		c.Backend.WSPath = "/ws"
	}
	if c.Backend.RequestTimeoutSeconds == 0 {
		c.Backend.RequestTimeoutSeconds = 10
	}
	if c.Feed.MaxMessages == 0 {
		c.Feed.MaxMessages = 200
	}
	if c.Feed.BufferedMessageLimit == 0 {
		c.Feed.BufferedMessageLimit = 300
	}
	if c.Feed.UnreadDisplayCap == 0 {
		c.Feed.UnreadDisplayCap = 99
	}
	if c.Feed.BottomEpsilon == 0 {
		c.Feed.BottomEpsilon = 2
	}
	if c.Feed.ScrollSuppressMS == 0 {
		c.Feed.ScrollSuppressMS = 150
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverFile
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverSQLite:
			c.Store.Path = "./data/state.db"
		default:
			c.Store.Path = "./data/state.json"
		}
	}
	if c.Store.FlushMS == 0 {
		c.Store.FlushMS = 500
	}
	if c.Store.WriteTimeoutSeconds == 0 {
		c.Store.WriteTimeoutSeconds = 5
	}
	if c.Transcript.OutputDir == "" {
		c.Transcript.OutputDir = "./transcripts"
	}
	if c.Transcript.RotateMinutes == 0 {
		c.Transcript.RotateMinutes = 60
	}
	if c.Transcript.RotateMegabytes == 0 {
		c.Transcript.RotateMegabytes = 16
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an http or https URL, got %q", c.Backend.URL)
	}
	if c.Backend.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("backend.request_timeout_seconds must not be negative")
	}
	if c.Feed.MaxMessages < 0 || c.Feed.BufferedMessageLimit < 0 || c.Feed.UnreadDisplayCap < 0 {
		return fmt.Errorf("feed limits must be positive")
	}
	if c.Feed.BottomEpsilon < 0 || c.Feed.ScrollSuppressMS < 0 {
		return fmt.Errorf("feed.bottom_epsilon and feed.scroll_suppress_ms must not be negative")
	}
	if c.Store.FlushMS < 0 || c.Store.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("store.flush_ms and store.write_timeout_seconds must not be negative")
	}

	switch c.Store.Driver {
	case DriverFile, DriverSQLite, DriverMemory:
	case DriverS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 driver")
		}
		if c.Store.S3.Region == "" {
			return fmt.Errorf("store.s3.region is required for the s3 driver")
		}
		// If using static credentials, both key and secret are required
		if c.Store.S3.AccessKeyID != "" && c.Store.S3.SecretAccessKey == "" {
			return fmt.Errorf("store.s3.secret_access_key is required when using access_key_id")
		}
		if c.Store.S3.RoleARN != "" && c.Store.S3.WebIdentityTokenFile == "" {
			return fmt.Errorf("store.s3.web_identity_token_file (or AWS_WEB_IDENTITY_TOKEN_FILE) is required with role_arn")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want file, sqlite, s3 or memory)", c.Store.Driver)
	}

	if c.Transcript.Enabled && (c.Transcript.RotateMinutes < 0 || c.Transcript.RotateMegabytes < 0) {
		return fmt.Errorf("transcript rotation limits must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Targets returns the configured channels.
func (c *Config) Targets() message.Targets {
	return message.Targets{Twitch: c.Channels.Twitch, Kick: c.Channels.Kick}.Clone()
}

// RequestTimeout is the REST request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// ScrollSuppress is how long an at-bottom scroll report is taken as the echo
// of the feed scrolling itself.
func (c *Config) ScrollSuppress() time.Duration {
	return time.Duration(c.Feed.ScrollSuppressMS) * time.Millisecond
}

// StoreFlush is how often changed state is written behind the client.
func (c *Config) StoreFlush() time.Duration {
	return time.Duration(c.Store.FlushMS) * time.Millisecond
}

// StoreWriteTimeout bounds each state write.
func (c *Config) StoreWriteTimeout() time.Duration {
	return time.Duration(c.Store.WriteTimeoutSeconds) * time.Second
}
