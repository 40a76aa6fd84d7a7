// Package config loads and saves the metavault configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/metavault/internal/blobstore"
)

// DefaultRemoteTimeout bounds each remote call unless configured otherwise.
const DefaultRemoteTimeout = 10 * time.Second

// Config is the on-disk configuration.
type Config struct {
	// DataDir holds the local encrypted blobs.
	DataDir string `yaml:"data_dir"`

	// RemoteDB is the SQLite replica. Empty disables replication.
	RemoteDB string `yaml:"remote_db"`

	RemoteTimeout Duration `yaml:"remote_timeout"`

	// WalletID scopes storage fingerprints.
	WalletID string `yaml:"wallet_id"`

	// DeviceID is recorded as the writer of remote blobs.
	DeviceID string `yaml:"device_id"`

	// KeyFile holds the hex-encoded root secrets, current first.
	KeyFile string `yaml:"key_file"`

	// ReadTrackingEpoch marks transactions older than it as read.
	ReadTrackingEpoch time.Time `yaml:"read_tracking_epoch,omitempty"`

	LogLevel string `yaml:"log_level"`
}

// Duration is a time.Duration written as a string such as "10s".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultPath returns ~/.metavault/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".metavault", "config.yaml"), nil
}

// Default returns a configuration rooted at dir with fresh wallet and
// device ids.
func Default(dir string) (*Config, error) {
	walletID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet id: %w", err)
	}
	deviceID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device id: %w", err)
	}
	return &Config{
		DataDir:       filepath.Join(dir, "data"),
		RemoteDB:      filepath.Join(dir, "remote.db"),
		RemoteTimeout: Duration(DefaultRemoteTimeout),
		WalletID:      walletID.String(),
		DeviceID:      deviceID.String(),
		KeyFile:       filepath.Join(dir, "root.keys"),
		LogLevel:      "info",
	}, nil
}

// Load reads and validates a configuration file.
// Unknown fields are rejected so typos surface early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		RemoteTimeout: Duration(DefaultRemoteTimeout),
		LogLevel:      "info",
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save validates cfg and atomically writes it to path.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir, err := blobstore.OpenDir(filepath.Dir(path))
	if err != nil {
		return err
	}
	if err := dir.Write(filepath.Base(path), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.WalletID == "" {
		return errors.New("wallet_id is required")
	}
	if c.KeyFile == "" {
		return errors.New("key_file is required")
	}
	if _, err := uuid.Parse(c.DeviceID); err != nil {
		return fmt.Errorf("device_id: %w", err)
	}
	if c.RemoteTimeout < 0 {
		return fmt.Errorf("remote_timeout must not be negative, got %s", time.Duration(c.RemoteTimeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level %q is not one of debug, info, warn, error", s)
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
