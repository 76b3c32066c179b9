package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	megalodon "github.com/h3poteto/megalodon-sub000"
)

func parseProvider(s string) (megalodon.Provider, error) {
	switch p := megalodon.Provider(strings.ToLower(s)); p {
	case megalodon.Mastodon, megalodon.Pleroma, megalodon.Friendica, megalodon.Misskey:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q (valid: mastodon, pleroma, friendica, misskey)", s)
	}
}

// parseTimeline accepts user, public, local, direct, hashtag:<tag>,
// hashtag:local:<tag> and list:<id>.
func parseTimeline(s string) (megalodon.Timeline, error) {
	kind, rest, _ := strings.Cut(s, ":")
	switch megalodon.TimelineKind(kind) {
	case megalodon.TimelineUser, megalodon.TimelinePublic, megalodon.TimelineLocal, megalodon.TimelineDirect:
		if rest != "" {
			return megalodon.Timeline{}, fmt.Errorf("timeline %q takes no argument", kind)
		}
		return megalodon.Timeline{Kind: megalodon.TimelineKind(kind)}, nil
	case megalodon.TimelineHashtag:
		tl := megalodon.Timeline{Kind: megalodon.TimelineHashtag, Tag: rest}
		if tag, ok := strings.CutPrefix(rest, "local:"); ok {
			tl.Tag, tl.Local = tag, true
		}
		if tl.Tag == "" {
			return megalodon.Timeline{}, fmt.Errorf("hashtag timeline needs a tag: hashtag:<tag>")
		}
		return tl, nil
	case megalodon.TimelineList:
		if rest == "" {
			return megalodon.Timeline{}, fmt.Errorf("list timeline needs an id: list:<id>")
		}
		return megalodon.Timeline{Kind: megalodon.TimelineList, ListID: rest}, nil
	default:
		return megalodon.Timeline{}, fmt.Errorf("unknown timeline %q", s)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// clientOptions translates the config file into client options.
func clientOptions(cfg *Config) ([]megalodon.ClientOption, error) {
	var opts []megalodon.ClientOption
	if cfg.Default.StreamingURL != "" {
		opts = append(opts, megalodon.WithStreamingURL(cfg.Default.StreamingURL))
	}
	if cfg.Default.UserAgent != "" {
		opts = append(opts, megalodon.WithUserAgent(cfg.Default.UserAgent))
	}
	if cfg.Default.Proxy != "" {
		proxy, err := url.Parse(cfg.Default.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Default.Proxy, err)
		}
		opts = append(opts, megalodon.WithProxy(proxy))
	}
	if cfg.Stream.EventStream {
		opts = append(opts, megalodon.WithEventStream(true))
	}
	if cfg.Stream.MaxAttempts > 0 {
		policy := megalodon.DefaultReconnectPolicy()
		policy.MaxAttempts = cfg.Stream.MaxAttempts
		opts = append(opts, megalodon.WithReconnectPolicy(policy))
	}
	return opts, nil
}

// getClient creates a client from the config file. extra options are
// applied last.
func getClient(extra ...megalodon.ClientOption) (*megalodon.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.BaseURL == "" {
		return nil, fmt.Errorf("no server configured. Run 'megalodon init <provider> <base-url> <access-token>' first")
	}
	provider, err := parseProvider(valueOrDefault(cfg.Default.Provider, string(megalodon.Mastodon)))
	if err != nil {
		return nil, err
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	return megalodon.NewClient(provider, cfg.Default.BaseURL, cfg.Auth.AccessToken, append(opts, extra...)...), nil
}

// maskKey shows the first 4 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
