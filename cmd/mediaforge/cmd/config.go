package cmd

import (
	"fmt"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  mediaforge config dump > config.yaml

Configuration can be set via config file, environment variables with the
MEDIAFORGE_ prefix (underscores for nesting, e.g. MEDIAFORGE_SERVER_PORT),
or command-line flags.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}

	fmt.Print(string(out))
	return nil
}
