// Package config loads device configuration from a YAML file, NJ_*
// environment variables and command-line flags, in increasing precedence.
//
// Example config.yaml:
//
//	device:
//	  name: laptop
//	relay:
//	  url: ws://relay.example.com:8080
//	  exchange: my-journal
//	markdown:
//	  dir: ~/journal
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/notejournal/journal/internal/journal/model"
)

// EnvPrefix is prepended to environment variable names: relay.url is read
// from NJ_RELAY_URL.
const EnvPrefix = "NJ"

// Configuration keys.
const (
	KeyDeviceName     = "device.name"
	KeyDeviceID       = "device.id"
	KeyRelayURL       = "relay.url"
	KeyRelayExchange  = "relay.exchange"
	KeyStorePath      = "store.path"
	KeyMarkdownDir    = "markdown.dir"
	KeyLogFile        = "log.file"
	KeyLogMaxSizeMB   = "log.max_size_mb"
	KeyLogMaxBackups  = "log.max_backups"
	deviceIDFile      = "device-id"
	defaultConfigName = "config"
	defaultRelayURL   = "ws://localhost:8080"
	defaultStoreName  = "journal.db"
	defaultLogMaxSize = 10
	defaultLogBackups = 3
)

// ErrNoExchange is returned by Validate when no exchange is configured.
var ErrNoExchange = errors.New("config: relay.exchange is not set")

// Config is the resolved configuration of one device.
type Config struct {
	Device   Device   `mapstructure:"device" yaml:"device"`
	Relay    Relay    `mapstructure:"relay" yaml:"relay"`
	Store    Store    `mapstructure:"store" yaml:"store"`
	Markdown Markdown `mapstructure:"markdown" yaml:"markdown"`
	Log      Log      `mapstructure:"log" yaml:"log"`

	// Dir holds the config file and the persisted device id.
	Dir string `mapstructure:"-" yaml:"-"`
}

// Device identifies this device to its peers.
type Device struct {
	Name string `mapstructure:"name" yaml:"name"`
	ID   string `mapstructure:"id" yaml:"id"`
}

// Relay selects the relay and the exchange shared by this user's devices.
type Relay struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

// Store locates the local SQLite database.
type Store struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Markdown locates the directory of day files.
type Markdown struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Log configures the log destination. An empty File logs to stderr.
type Log struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Sender is how this device signs outgoing payloads.
func (c *Config) Sender() model.Sender {
	return model.Sender{Name: c.Device.Name, ID: c.Device.ID}
}

// Validate checks the settings needed to talk to a relay.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Relay.URL) == "" {
		return fmt.Errorf("config: relay.url is not set")
	}
	if strings.TrimSpace(c.Relay.Exchange) == "" {
		return ErrNoExchange
	}
	if c.Device.ID == "" {
		return fmt.Errorf("config: device.id is not set")
	}
	return nil
}

// DefaultDir returns $XDG_CONFIG_HOME/nj or the platform equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "nj"), nil
}

// Loader resolves a Config. Flags are bound through Viper before Load.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment binding set up.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "device"
	}
	v.SetDefault(KeyDeviceName, hostname)
	v.SetDefault(KeyDeviceID, "")
	v.SetDefault(KeyRelayURL, defaultRelayURL)
	v.SetDefault(KeyRelayExchange, "")
	v.SetDefault(KeyStorePath, "")
	v.SetDefault(KeyMarkdownDir, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, defaultLogMaxSize)
	v.SetDefault(KeyLogMaxBackups, defaultLogBackups)

	return &Loader{v: v}
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads path, or config.yaml in DefaultDir when path is empty. A
// missing default file is not an error; a missing explicit file is. On first
// use a device id is generated and persisted next to the config file.
func (l *Loader) Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
		l.v.SetConfigName(defaultConfigName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(dir)
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Dir = dir

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(dir, defaultStoreName)
	}
	cfg.Markdown.Dir = expandHome(cfg.Markdown.Dir)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	if cfg.Device.ID == "" {
		id, err := deviceID(dir)
		if err != nil {
			return nil, err
		}
		cfg.Device.ID = id
	}

	return &cfg, nil
}

// deviceID reads the persisted id from dir, creating one if needed.
func deviceID(dir string) (string, error) {
	path := filepath.Join(dir, deviceIDFile)

	// #nosec G304 - path is inside the config directory
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
