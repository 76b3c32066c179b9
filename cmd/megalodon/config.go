package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configShowReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().BoolVar(&configShowReveal, "reveal", false, "Print the access token unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage megalodon configuration",
	Long:  "View or modify the megalodon CLI configuration stored in ~/.megalodon/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration with the access token masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'megalodon init <provider> <base-url> <access-token>' to create one.")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
		return writeConfig(cmd.OutOrStdout(), cfg, configShowReveal)
	},
}

// writeConfig renders cfg as TOML. Unless reveal is set the access token is
// masked.
func writeConfig(w io.Writer, cfg *Config, reveal bool) error {
	shown := *cfg
	if !reveal && shown.Auth.AccessToken != "" {
		shown.Auth.AccessToken = maskKey(shown.Auth.AccessToken)
	}
	data, err := toml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("cannot render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: megalodon config set default.streaming_url wss://streaming.mastodon.social",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.access_token" {
			value = maskKey(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
