package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Store drivers.
const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StoreRedis     = "redis"
)

// Auth drivers.
const (
	AuthLocal    = "local"
	AuthFirebase = "firebase"
)

// Config represents the global ~/.criptx/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	DevMode        bool          `toml:"dev_mode"`
	Store          StoreConfig   `toml:"store"`
	Auth           AuthConfig    `toml:"auth"`
	Feed           FeedConfig    `toml:"feed"`
	Session        SessionConfig `toml:"session"`
}

// StoreConfig selects and configures the remote document store.
type StoreConfig struct {
	Driver          string `toml:"driver"`
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
	RedisAddr       string `toml:"redis_addr"`
	RedisPassword   string `toml:"redis_password"`
	RedisDB         int    `toml:"redis_db"`
	RedisPrefix     string `toml:"redis_prefix"`
}

// AuthConfig selects and configures the identity provider.
type AuthConfig struct {
	Driver         string `toml:"driver"`
	SignInURL      string `toml:"sign_in_url"`
	CallbackAddr   string `toml:"callback_addr"`
	BrowserCommand string `toml:"browser_command"`
}

// FeedConfig bounds the local message window.
type FeedConfig struct {
	Limit int `toml:"limit"`
}

// SessionConfig controls ephemeral session expiry.
type SessionConfig struct {
	SweepInterval time.Duration `toml:"sweep_interval"`
	EphemeralTTL  time.Duration `toml:"ephemeral_ttl"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      StoreMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "criptx",
		},
		Auth: AuthConfig{
			Driver:       AuthLocal,
			CallbackAddr: "127.0.0.1:8765",
		},
		Feed: FeedConfig{Limit: 50},
		Session: SessionConfig{
			SweepInterval: time.Minute,
			EphemeralTTL:  24 * time.Hour,
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// normalize restores defaults for fields zeroed out in the file.
func (c *Config) normalize() {
	def := Default()
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = def.Store.RedisPrefix
	}
	if c.Auth.Driver == "" {
		c.Auth.Driver = def.Auth.Driver
	}
	if c.Feed.Limit <= 0 {
		c.Feed.Limit = def.Feed.Limit
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = def.Session.SweepInterval
	}
	if c.Session.EphemeralTTL <= 0 {
		c.Session.EphemeralTTL = def.Session.EphemeralTTL
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
