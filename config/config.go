// Package config provides configuration loading for movekey using TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Storage settings
type Storage struct {
	Backend       string `toml:"backend"` // "file", "sqlite" or "memory"
	Path          string `toml:"path"`    // empty = backend default under ~/.config/movekey
	Key           string `toml:"key"`
	TimeoutMillis int    `toml:"timeoutMillis"` // per storage call
	PollMillis    int    `toml:"pollMillis"`    // change polling when the backend cannot watch
}

// Keys settings. The command keys themselves are fixed.
type Keys struct {
	SlightScroll       int      `toml:"slightScroll"`
	FullScroll         int      `toml:"fullScroll"`
	ChordTimeoutMillis int      `toml:"chordTimeoutMillis"`
	EditorSelectors    []string `toml:"editorSelectors"`
}

// Browser settings
type Browser struct {
	ChromePath     string `toml:"chromePath"`
	Headless       bool   `toml:"headless"`
	UserAgent      string `toml:"userAgent"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

// Log settings
type Log struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"` // empty = ~/.config/movekey/logs
}

// Config is the main configuration struct
type Config struct {
	Storage Storage `toml:"storage"`
	Keys    Keys    `toml:"keys"`
	Browser Browser `toml:"browser"`
	Log     Log     `toml:"log"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:       BackendFile,
			Key:           "disablelist",
			TimeoutMillis: 5000,
			PollMillis:    1000,
		},
		Keys: Keys{
			SlightScroll:       60,
			FullScroll:         500,
			ChordTimeoutMillis: 2000,
			EditorSelectors:    []string{"div.CodeMirror-scroll", "div.ace_content"},
		},
		Browser: Browser{
			Headless:       false,
			UserAgent:      "",
			TimeoutSeconds: 10,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Dir returns the movekey configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "movekey"), nil
}

// ConfigPath returns the path to the user's config file.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load loads the user's config file, layered on top of defaults.
// Returns the default config if no user config exists.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil // Return defaults if we can't determine path
	}
	return LoadFile(path)
}

// LoadFile loads the config at path, layered on top of defaults. A missing
// file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	var user Config
	md, err := toml.DecodeFile(path, &user)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("loading config from %s: unknown keys %v", path, undecoded)
	}

	cfg = merge(cfg, &user, md)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, nil
}

// merge layers user config on top of defaults. Only non-zero values from
// user config override defaults; booleans override when the file sets them.
func merge(defaults, user *Config, md toml.MetaData) *Config {
	result := *defaults
	result.Keys.EditorSelectors = append([]string(nil), defaults.Keys.EditorSelectors...)

	// Storage
	mergeString(&result.Storage.Backend, user.Storage.Backend)
	mergeString(&result.Storage.Path, user.Storage.Path)
	mergeString(&result.Storage.Key, user.Storage.Key)
	mergeInt(&result.Storage.TimeoutMillis, user.Storage.TimeoutMillis)
	mergeInt(&result.Storage.PollMillis, user.Storage.PollMillis)

	// Keys
	mergeInt(&result.Keys.SlightScroll, user.Keys.SlightScroll)
	mergeInt(&result.Keys.FullScroll, user.Keys.FullScroll)
	mergeInt(&result.Keys.ChordTimeoutMillis, user.Keys.ChordTimeoutMillis)
	if md.IsDefined("keys", "editorSelectors") {
		result.Keys.EditorSelectors = user.Keys.EditorSelectors
	}

	// Browser
	mergeString(&result.Browser.ChromePath, user.Browser.ChromePath)
	mergeString(&result.Browser.UserAgent, user.Browser.UserAgent)
	mergeInt(&result.Browser.TimeoutSeconds, user.Browser.TimeoutSeconds)
	if md.IsDefined("browser", "headless") {
		result.Browser.Headless = user.Browser.Headless
	}

	// Log
	mergeString(&result.Log.Level, user.Log.Level)
	mergeString(&result.Log.Dir, user.Log.Dir)

	return &result
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// Validate checks values the defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Keys.SlightScroll < 0 || c.Keys.FullScroll < 0 || c.Keys.ChordTimeoutMillis < 0 {
		return errors.New("key distances and timeouts must not be negative")
	}
	if c.Storage.TimeoutMillis < 0 || c.Storage.PollMillis < 0 || c.Browser.TimeoutSeconds < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// StorageTimeout is the per-call storage timeout.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.TimeoutMillis) * time.Millisecond
}

// PollInterval is the storage polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Storage.PollMillis) * time.Millisecond
}

// ChordTimeout is how long a key stays available as a chord prefix.
func (c *Config) ChordTimeout() time.Duration {
	return time.Duration(c.Keys.ChordTimeoutMillis) * time.Millisecond
}

// BrowserTimeout is the per-call DevTools timeout.
func (c *Config) BrowserTimeout() time.Duration {
	return time.Duration(c.Browser.TimeoutSeconds) * time.Second
}

// DefaultTOML returns the default configuration as a TOML string.
// Used by init-config to generate a user config file.
func DefaultTOML() string {
	return `# movekey configuration
# Save to ~/.config/movekey/config.toml and customize
# Only include settings you want to change from defaults

# Where the disable list is kept
[storage]
backend = "file"              # "file", "sqlite" or "memory"
path = ""                     # empty = rules.json / rules.db in ~/.config/movekey
key = "disablelist"
timeoutMillis = 5000
pollMillis = 1000             # change polling for backends that cannot watch

# Key handling (the command keys are fixed)
[keys]
slightScroll = 60             # pixels for j/k
fullScroll = 500              # pixels for d/u
chordTimeoutMillis = 2000     # window for gg and yy
editorSelectors = ["div.CodeMirror-scroll", "div.ace_content"]

# Chrome, for "movekey run"
[browser]
chromePath = ""               # empty = auto-detect
headless = false
userAgent = ""
timeoutSeconds = 10

[log]
level = "info"                # debug, info, warn, error
dir = ""                      # empty = ~/.config/movekey/logs
`
}

// FormatError formats a configuration error for user display.
func FormatError(err error) string {
	return fmt.Sprintf("Configuration error:\n\n%s", err.Error())
}
