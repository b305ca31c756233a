package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robertheadley/playwright-userscript-manager/internal/config"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	scriptsDir  string
	storagePath string
	headless    bool
	navTimeout  time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "usm",
	Short: "usm - userscript manager for Chrome DevTools",
	Long: `usm injects Greasemonkey-style userscripts into pages driven over the
Chrome DevTools protocol.

Scripts are discovered from a directory of *.user.js files, matched against
page URLs with @match patterns, injected at their declared @run-at phase,
and given a GM_* API backed by the host process (persistent values,
cross-origin requests, tabs, clipboard, notifications).`,
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "text" {
			zcfg = zap.NewDevelopmentConfig()
		}
		if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(level)
		}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "usm.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&scriptsDir, "scripts", "", "Scripts directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "Value store path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&navTimeout, "timeout", 0, "Navigation timeout (overrides config)")
}

// loadConfig reads the config file named by --config, applies flag
// overrides, and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if scriptsDir != "" {
		cfg.Scripts.Dir = scriptsDir
	}
	if storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if rootCmd.PersistentFlags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if navTimeout > 0 {
		cfg.Browser.NavigationTimeout = navTimeout.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
