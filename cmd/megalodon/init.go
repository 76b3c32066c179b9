package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <provider> <base-url> <access-token>",
	Short: "Store server and token in ~/.megalodon/config.toml",
	Long:  "Initialize the megalodon CLI by storing the server dialect, base URL and access token in the local configuration file.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := parseProvider(args[0]); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.Provider = args[0]
		cfg.Default.BaseURL = args[1]
		cfg.Auth.AccessToken = args[2]

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		return nil
	},
}
