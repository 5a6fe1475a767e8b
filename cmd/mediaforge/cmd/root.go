// Package cmd implements the CLI commands for mediaforge.
package cmd

import (
	"fmt"
	"strings"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mediaforge",
	Short:   "Media post-processing engine with pull delivery",
	Version: version.Short(),
	Long: `mediaforge accepts media files from registered customers, transcodes
them into the customer's selected output profiles with ffmpeg, and serves
the results through a polling pull protocol.

Jobs survive restarts: admitted work is persisted before it is
acknowledged and unfinished transcodes restart from scratch on boot.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/mediaforge, $HOME/.mediaforge)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// applyLoggingFlags overrides the loaded logging config with explicitly set
// CLI flags. Flags beat env vars and the config file; unset flags change
// nothing.
func applyLoggingFlags(cfg *config.Config) {
	flags := rootCmd.PersistentFlags()
	if level, ok := changedString(flags, "log-level"); ok {
		level = strings.ToLower(level)
		if level == "warning" {
			level = "warn"
		}
		cfg.Logging.Level = level
	}
	if format, ok := changedString(flags, "log-format"); ok {
		cfg.Logging.Format = strings.ToLower(format)
	}
}

// changedString returns the flag value only when the user set it.
func changedString(flags *pflag.FlagSet, name string) (string, bool) {
	if !flags.Changed(name) {
		return "", false
	}
	value, _ := flags.GetString(name)
	return value, true
}
