// Package config loads and persists the manager's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robertheadley/playwright-userscript-manager/internal/browser"
)

// Config holds all usm configuration.
type Config struct {
	// Userscript catalog
	Scripts ScriptsConfig `yaml:"scripts"`

	// Persistent value storage
	Storage StorageConfig `yaml:"storage"`

	// Browser connection and launch
	Browser BrowserConfig `yaml:"browser"`

	// Run behavior
	Run RunConfig `yaml:"run"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ScriptsConfig configures catalog discovery.
type ScriptsConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig configures the value store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig configures the Chrome connection.
type BrowserConfig struct {
	DebuggerURL       string   `yaml:"debugger_url"`
	Launch            []string `yaml:"launch"`
	Headless          bool     `yaml:"headless"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
}

// RunConfig configures the run command.
type RunConfig struct {
	// How long to keep the page open after the load event, for scripts that
	// keep working past injection. Zero means until interrupted.
	Window string `yaml:"window"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scripts: ScriptsConfig{
			Dir: "scripts",
		},
		Storage: StorageConfig{
			Path: "data/values.json",
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: "30s",
		},
		Run: RunConfig{
			Window: "0s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("USM_SCRIPTS_DIR"); dir != "" {
		c.Scripts.Dir = dir
	}
	if path := os.Getenv("USM_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if url := os.Getenv("USM_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if bin := os.Getenv("USM_BROWSER_BIN"); bin != "" {
		c.Browser.Launch = append([]string{bin}, c.Browser.Launch...)
	}
	if v := os.Getenv("USM_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if level := os.Getenv("USM_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRunWindow returns the post-load observation window as a duration.
// Zero means run until interrupted.
func (c *Config) GetRunWindow() time.Duration {
	d, err := time.ParseDuration(c.Run.Window)
	if err != nil {
		return 0
	}
	return d
}

// BrowserSettings translates the YAML section into the driver's config.
func (c *Config) BrowserSettings() browser.Config {
	return browser.Config{
		DebuggerURL:         c.Browser.DebuggerURL,
		Launch:              c.Browser.Launch,
		Headless:            c.Browser.Headless,
		ViewportWidth:       c.Browser.ViewportWidth,
		ViewportHeight:      c.Browser.ViewportHeight,
		NavigationTimeoutMs: int(c.GetNavigationTimeout() / time.Millisecond),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scripts.Dir == "" {
		return fmt.Errorf("scripts.dir not configured")
	}
	if c.Browser.NavigationTimeout != "" {
		if _, err := time.ParseDuration(c.Browser.NavigationTimeout); err != nil {
			return fmt.Errorf("invalid browser.navigation_timeout: %w", err)
		}
	}
	if c.Run.Window != "" {
		if _, err := time.ParseDuration(c.Run.Window); err != nil {
			return fmt.Errorf("invalid run.window: %w", err)
		}
	}
	return nil
}
