package main

import (
	"context"
	"fmt"
	"time"

	megalodon "github.com/h3poteto/megalodon-sub000"
	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "how long to wait for the live check")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and check the user stream",
	Long:  "Display the current configuration and try to open the user timeline stream once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		w := cmd.OutOrStdout()

		fmt.Fprintln(w, "Configuration:")
		fmt.Fprintf(w, "  Provider:      %s\n", valueOrDefault(cfg.Default.Provider, "(not set)"))
		fmt.Fprintf(w, "  Base URL:      %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		if cfg.Default.StreamingURL != "" {
			fmt.Fprintf(w, "  Streaming URL: %s\n", cfg.Default.StreamingURL)
		}
		if cfg.Default.Proxy != "" {
			fmt.Fprintf(w, "  Proxy:         %s\n", cfg.Default.Proxy)
		}
		if cfg.Auth.AccessToken != "" {
			fmt.Fprintf(w, "  Access Token:  %s\n", maskKey(cfg.Auth.AccessToken))
		} else {
			fmt.Fprintln(w, "  Access Token:  (not set)")
		}

		if cfg.Default.BaseURL == "" {
			return nil
		}

		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		// The probe must not retry.
		policy := megalodon.DefaultReconnectPolicy()
		policy.MaxAttempts = 1
		client, err := getClient(megalodon.WithLogger(logger), megalodon.WithReconnectPolicy(policy))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		fmt.Fprintln(w)
		fmt.Fprintln(w, "Live status:")
		if err := probe(ctx, client.UserStream()); err != nil {
			fmt.Fprintf(w, "  Stream:        failed (%v)\n", err)
			return nil
		}
		fmt.Fprintln(w, "  Stream:        connected")
		return nil
	},
}

// probe starts s and reports whether it connects before ctx is done.
func probe(ctx context.Context, s *megalodon.Stream) error {
	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	s.OnConnect(func() { report(nil) })
	s.OnError(func(err error) { report(err) })

	s.Start()
	defer s.Stop()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
