package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drivefs/drivefs/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = versionString()
}

func versionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit: %s)", version, commit)
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "drivefs",
	Short: "Mount virtual storage drives as regular filesystems",
	Long: `drivefs exposes virtual storage drives as regular filesystems.

A drive is a storage backend, either an in-memory tree or an S3 bucket,
served through FUSE so any program can work on it with plain file
operations. The mount command runs in the foreground and serves the
filesystem until it is interrupted or the mount is detached.`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("drivefs version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the effective configuration: defaults, then the config
// file (the --config flag, or the default file when it exists), then
// DRIVEFS_* environment overrides, then command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	def := defaultConfigPath()
	if def == "" {
		return ""
	}
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}

// defaultConfigPath is ~/.drivefs/config.yaml, or empty when the home
// directory cannot be determined.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".drivefs", "config.yaml")
}
