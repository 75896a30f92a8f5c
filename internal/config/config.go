package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the cache engine settings loaded from config.toml.
type Config struct {
	// DataDir is the directory holding the cache databases, the LOCK
	// file and the engine log.
	DataDir string `toml:"data_dir"`

	// RetentionDays is the age past which fully synced messages become
	// eligible for cleanup.
	RetentionDays int `toml:"retention_days"`

	// SweepIntervalHours is how often the retention sweeper runs.
	SweepIntervalHours int `toml:"sweep_interval_hours"`

	// WriteRetryAttempts bounds retries on storage contention.
	WriteRetryAttempts int `toml:"write_retry_attempts"`

	// WriteRetryBaseMillis is the base delay; attempt N waits N*base.
	WriteRetryBaseMillis int `toml:"write_retry_base_millis"`

	// ProfileTTLMinutes bounds the user profile cache entries.
	ProfileTTLMinutes int `toml:"profile_ttl_minutes"`

	// QueryLimit is the default page size for message queries.
	QueryLimit int `toml:"query_limit"`

	// SocketPath is the unix socket the daemon health server listens on.
	// Empty means <data_dir>/cached.sock.
	SocketPath string `toml:"socket_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:              defaultDataDir(),
		RetentionDays:        30,
		SweepIntervalHours:   24,
		WriteRetryAttempts:   3,
		WriteRetryBaseMillis: 50,
		ProfileTTLMinutes:    60,
		QueryLimit:           50,
	}
}

// Load reads config from path and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes cfg to path, creating parent dirs as needed.
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

// Retention returns the retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns the sweeper period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// WriteRetryBase returns the contention retry base delay.
func (c *Config) WriteRetryBase() time.Duration {
	return time.Duration(c.WriteRetryBaseMillis) * time.Millisecond
}

// ProfileTTL returns the profile cache TTL as a duration.
func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLMinutes) * time.Minute
}

// MessageDBPath returns the path of the message-domain database.
func (c *Config) MessageDBPath() string {
	return filepath.Join(c.DataDir, "messages.db")
}

// SpaceDBPath returns the path of the space-metadata database.
func (c *Config) SpaceDBPath() string {
	return filepath.Join(c.DataDir, "spaces.db")
}

// Socket returns the health server socket path.
func (c *Config) Socket() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.DataDir, "cached.sock")
}

// LogPath returns the engine log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "cached.log")
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	// RetentionDays 0 is meaningful (expire everything synced), so only
	// negative values fall back.
	if c.RetentionDays < 0 {
		c.RetentionDays = def.RetentionDays
	}
	if c.SweepIntervalHours <= 0 {
		c.SweepIntervalHours = def.SweepIntervalHours
	}
	if c.WriteRetryAttempts <= 0 {
		c.WriteRetryAttempts = def.WriteRetryAttempts
	}
	if c.WriteRetryBaseMillis <= 0 {
		c.WriteRetryBaseMillis = def.WriteRetryBaseMillis
	}
	if c.ProfileTTLMinutes <= 0 {
		c.ProfileTTLMinutes = def.ProfileTTLMinutes
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = def.QueryLimit
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stunxt-cache"
	}
	return filepath.Join(home, ".stunxt", "cache")
}
